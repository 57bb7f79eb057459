package httpserver

import (
	"log"
	"net/http"

	"github.com/iago/invoice-pipeline/internal/http/handlers"
	"github.com/iago/invoice-pipeline/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/invoices", deps.API.Invoices)
	mux.HandleFunc("/v1/invoices/", deps.API.InvoiceByID)

	handler := http.Handler(mux)
	handler = middleware.RateLimit(middleware.RateLimitConfig{
		RPS:   deps.RateLimitRPS,
		Burst: deps.RateLimitBurst,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
