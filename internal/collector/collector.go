// Package collector serves the HTTP beacon endpoint used by browser agents.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"eumbeacon/internal/beacon"
	"eumbeacon/internal/ingest"
	"eumbeacon/internal/metrics"
)

// MaxBodySize caps the size of a beacon POST body.
const MaxBodySize = 1 << 20

var errTrailingData = errors.New("unexpected data after beacon")

// Response is the body returned for an accepted beacon.
type Response struct {
	RequestID string `json:"request_id"`
	Records   int    `json:"records"`
}

// Server is the collector's HTTP front end.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// New builds the HTTP server. gatherer backs /metrics and may be nil.
func New(addr string, sink ingest.Sink, m *metrics.Metrics, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewMux(sink, m, gatherer, log),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
		},
		log: log,
	}
}

// NewMux registers the collector routes.
func NewMux(sink ingest.Sink, m *metrics.Metrics, gatherer prometheus.Gatherer, log zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/beacon", beaconHandler(sink, m, log))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start listens and serves in the background. Errors other than a clean
// shutdown are sent on the returned channel.
func (s *Server) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("HTTP collector started")

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func beaconHandler(sink ingest.Sink, m *metrics.Metrics, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Browser agents post cross-origin.
		w.Header().Set("Access-Control-Allow-Origin", "*")

		switch r.Method {
		case http.MethodPost:
		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		default:
			w.Header().Set("Allow", "POST, OPTIONS")
			http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
			return
		}

		b := beacon.New()
		body := http.MaxBytesReader(w, r.Body, MaxBodySize)
		if err := decodeBeacon(body, b); err != nil {
			m.Reject(metrics.ReasonBadRequest)
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Failed to parse beacon")

			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				http.Error(w, "Beacon too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Invalid beacon payload", http.StatusBadRequest)
			return
		}

		d := ingest.Delivery{
			RequestID: uuid.NewString(),
			Source:    "http:" + r.RemoteAddr,
			AgentID:   r.Header.Get("X-Agent-Id"),
			Received:  time.Now(),
			Beacon:    b,
		}
		if err := sink.Ingest(r.Context(), d); err != nil {
			log.Error().Err(err).Str("request_id", d.RequestID).Msg("Failed to ingest beacon")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(Response{RequestID: d.RequestID, Records: b.Len()})
	}
}

// decodeBeacon reads exactly one JSON beacon from r.
func decodeBeacon(r io.Reader, b *beacon.Beacon) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(b); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return errTrailingData
	}
	return nil
}
