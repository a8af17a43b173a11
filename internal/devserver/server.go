// Package devserver serves the training and inference trigger handlers over
// plain HTTP, translating requests into API Gateway proxy events.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aast-innovation/mlopsctl/internal/trigger"
)

// maxBody limits request bodies.
const maxBody = 1 << 20

// Handler is the part of a job trigger the server calls.
type Handler interface {
	HandleAPI(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)
	HandleSchedule(ctx context.Context, ev events.CloudWatchEvent) (trigger.ScheduleResult, error)
}

var _ Handler = (*trigger.JobTrigger)(nil)

// Route binds a job kind to its handler.
type Route struct {
	Kind    trigger.Kind
	Handler Handler
}

// Server exposes job triggers on HTTP.
type Server struct {
	routes []Route
	log    *slog.Logger
	now    func() time.Time
}

// New returns a Server for the given routes.
func New(logger *slog.Logger, routes ...Route) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{routes: routes, log: logger, now: time.Now}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	for _, route := range s.routes {
		r.Post(route.Kind.StartResource, s.proxy(route, route.Kind.StartResource))
		r.Post(route.Kind.ScheduleResource, s.proxy(route, route.Kind.ScheduleResource))
	}
	r.Post("/schedule/{kind}", s.handleScheduleTick)

	return r
}

// proxy forwards a request to the handler as an API Gateway proxy event.
func (s *Server) proxy(route Route, resource string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := proxyRequest(w, r, resource)
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"Message": fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit)})
			return
		case err != nil:
			writeJSON(w, http.StatusBadRequest, map[string]string{"Message": err.Error()})
			return
		}
		resp, err := route.Handler.HandleAPI(r.Context(), req)
		if err != nil {
			s.log.Error("handler failed", "resource", req.Resource, "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"Message": err.Error()})
			return
		}
		s.log.Info("request served", "resource", req.Resource, "status", resp.StatusCode)
		writeProxyResponse(w, resp)
	}
}

// handleScheduleTick simulates the EventBridge rule of a job kind.
func (s *Server) handleScheduleTick(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	var handler Handler
	var rule string
	for _, route := range s.routes {
		if route.Kind.Name == kind {
			handler, rule = route.Handler, route.Kind.RuleName
		}
	}
	if handler == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"Message": "unknown job kind " + kind})
		return
	}

	ev := events.CloudWatchEvent{
		ID:         uuid.NewString(),
		DetailType: "Scheduled Event",
		Source:     "aws.events",
		Time:       s.now().UTC(),
		Resources:  []string{"arn:aws:events:local:000000000000:rule/" + rule},
		Detail:     json.RawMessage("{}"),
	}
	res, err := handler.HandleSchedule(r.Context(), ev)
	if err != nil {
		s.log.Error("schedule tick failed", "kind", kind, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"Message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// proxyRequest builds the proxy event API Gateway would send for r.
func proxyRequest(w http.ResponseWriter, r *http.Request, resource string) (events.APIGatewayProxyRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return events.APIGatewayProxyRequest{}, err
	}
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	query := make(map[string]string, len(r.URL.Query()))
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}
	return events.APIGatewayProxyRequest{
		Resource:              resource,
		Path:                  r.URL.Path,
		HTTPMethod:            r.Method,
		Headers:               headers,
		QueryStringParameters: query,
		Body:                  string(body),
		RequestContext: events.APIGatewayProxyRequestContext{
			RequestID:    uuid.NewString(),
			ResourcePath: resource,
			HTTPMethod:   r.Method,
			Stage:        "local",
		},
	}, nil
}

func writeProxyResponse(w http.ResponseWriter, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.Copy(w, strings.NewReader(resp.Body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dev API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
