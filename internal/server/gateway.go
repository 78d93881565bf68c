package server

import (
	"CarbonLedger/internal/event"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const maxCallBody = 1 << 20

// errorBody is the HTTP error shape; code is the stable string code.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler returns the HTTP/JSON routes plus /healthz and /readyz. Routes
// call the same service methods as gRPC, in process.
func (s *GRPCServer) Handler() http.Handler {
	mux := runtime.NewServeMux()
	svc := s.service

	s.route(mux, "POST", "/v1/calls", func(r *http.Request, _ map[string]string) (interface{}, error) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallBody))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", event.ErrMalformedCall, err)
		}
		var call event.Call
		if err := json.Unmarshal(body, &call); err != nil {
			return nil, fmt.Errorf("%w: %v", event.ErrMalformedCall, err)
		}
		return svc.Submit(r.Context(), &SubmitRequest{Call: &call})
	})
	s.route(mux, "GET", "/v1/tokens/{contract}/balances/{holder}", func(r *http.Request, p map[string]string) (interface{}, error) {
		return svc.BalanceOf(r.Context(), &BalanceOfRequest{Contract: p["contract"], Holder: p["holder"]})
	})
	s.route(mux, "GET", "/v1/tokens/{contract}/supply", func(r *http.Request, p map[string]string) (interface{}, error) {
		return svc.TotalSupply(r.Context(), &ContractRequest{Contract: p["contract"]})
	})
	s.route(mux, "GET", "/v1/tokens/{contract}/admin", func(r *http.Request, p map[string]string) (interface{}, error) {
		return svc.Admin(r.Context(), &ContractRequest{Contract: p["contract"]})
	})
	s.route(mux, "GET", "/v1/tokens/{contract}/holders", func(r *http.Request, p map[string]string) (interface{}, error) {
		q := r.URL.Query()
		return svc.ListHolders(r.Context(), &ListHoldersRequest{
			Contract: p["contract"],
			PageSize: int32(queryInt(q.Get("page_size"))),
			After:    q.Get("after"),
		})
	})
	s.route(mux, "GET", "/v1/commitments/{contract}", func(r *http.Request, p map[string]string) (interface{}, error) {
		return svc.GetCommitment(r.Context(), &ContractRequest{Contract: p["contract"]})
	})
	s.route(mux, "GET", "/v1/commitments/{contract}/assignments", func(r *http.Request, p map[string]string) (interface{}, error) {
		return svc.ListAssignments(r.Context(), pageRequest(r, p["contract"]))
	})
	s.route(mux, "GET", "/v1/contracts/{contract}/facts", func(r *http.Request, p map[string]string) (interface{}, error) {
		return svc.ListFacts(r.Context(), pageRequest(r, p["contract"]))
	})
	s.route(mux, "GET", "/v1/accounts/{holder}/journals", func(r *http.Request, p map[string]string) (interface{}, error) {
		pr := pageRequest(r, "")
		return svc.ListJournals(r.Context(), &ListJournalsRequest{Holder: p["holder"], PageSize: pr.PageSize, Before: pr.Before})
	})
	s.route(mux, "GET", "/v1/calls/{call_id}", func(r *http.Request, p map[string]string) (interface{}, error) {
		return svc.GetCall(r.Context(), &GetCallRequest{CallID: p["call_id"]})
	})
	s.route(mux, "GET", "/v1/admin/integrity", func(r *http.Request, _ map[string]string) (interface{}, error) {
		return svc.VerifyIntegrity(r.Context(), &VerifyIntegrityRequest{})
	})

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)
	return httpMux
}

type routeFunc func(r *http.Request, pathParams map[string]string) (interface{}, error)

func (s *GRPCServer) route(mux *runtime.ServeMux, method, pattern string, fn routeFunc) {
	endpoint := method + " " + pattern
	err := mux.HandlePath(method, pattern, func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		resp, err := fn(r, pathParams)

		outcome := "ok"
		if err != nil {
			code, name := Classify(err)
			outcome = name
			writeJSON(w, runtime.HTTPStatusFromCode(code), errorBody{Code: name, Message: err.Error()})
		} else {
			writeJSON(w, http.StatusOK, resp)
		}

		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, outcome).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	})
	if err != nil {
		// patterns are constants above
		panic(fmt.Sprintf("register %s: %v", endpoint, err))
	}
}

func pageRequest(r *http.Request, contract string) *PageRequest {
	q := r.URL.Query()
	return &PageRequest{
		Contract: contract,
		PageSize: int32(queryInt(q.Get("page_size"))),
		Before:   int64(queryInt(q.Get("before"))),
	}
}

// queryInt treats absent or unparsable values as 0 (server default).
func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
