package handlers

import (
	"log"
	"net/http"

	"moderation-gateway/internal/apierror"
	"moderation-gateway/internal/services"
)

// ProxyHandler is the tail of the admission chain: requests that reach it
// have been authenticated and charged against quota and rate budget. Backend
// failures after this point are never refunded.
type ProxyHandler struct {
	proxyService *services.ProxyService
}

func NewProxyHandler(proxyService *services.ProxyService) *ProxyHandler {
	return &ProxyHandler{proxyService: proxyService}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := h.proxyService.Forward(r)
	if err != nil {
		status, kind := h.proxyService.ErrorStatus(err)
		log.Printf("[ERROR] Backend call failed (%d %s): %v", status, kind, err)
		apierror.Write(w, status, kind, "Moderation backend is unavailable")
		return
	}
	defer resp.Body.Close()

	if err := h.proxyService.CopyResponse(w, resp); err != nil {
		log.Printf("[ERROR] Error copying backend response: %v", err)
	}
}
