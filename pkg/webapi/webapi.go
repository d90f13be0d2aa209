// This file is to handle things such as metrics/health/membership, etc

package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/couchbase/stellar-distributed/common/membership"
	"github.com/couchbase/stellar-distributed/distributed"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type WebServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string
	Resolver      *distributed.Resolver
	Debug         bool
}

type WebServer struct {
	logger        *zap.Logger
	logLevel      *zap.AtomicLevel
	listenAddress string
	resolver      *distributed.Resolver
	debug         bool
	httpServer    *http.Server
}

func NewWebServer(opts WebServerOptions) *WebServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &WebServer{
		logger:        logger,
		logLevel:      opts.LogLevel,
		listenAddress: opts.ListenAddress,
		resolver:      opts.Resolver,
		debug:         opts.Debug,
	}
	w.httpServer = &http.Server{
		Handler:      w.Handler(),
		Addr:         w.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return w
}

type jsonMember struct {
	MemberID       string            `json:"member_id"`
	Rank           int               `json:"rank"`
	Identity       string            `json:"identity"`
	AnnounceTime   time.Time         `json:"announce_time"`
	IsMaster       bool              `json:"is_master"`
	PrimaryLocalIP string            `json:"primary_local_ip,omitempty"`
	LocalIPs       []string          `json:"local_ips"`
	PublicIPs      []string          `json:"public_ips"`
	ExposedPorts   map[string]string `json:"exposed_ports"`
}

type jsonMembership struct {
	GroupName     string        `json:"group_name"`
	RequiredCount int           `json:"required_count"`
	SelfID        string        `json:"self"`
	Members       []*jsonMember `json:"members"`
}

type jsonError struct {
	Error string `json:"error"`
}

func newJsonMember(m *membership.Member) *jsonMember {
	// a member without local ips is still listed, it simply has no primary
	primaryLocalIP, _ := m.PrimaryLocalIP()

	return &jsonMember{
		MemberID:       m.ID(),
		Rank:           m.Rank(),
		Identity:       m.Identity(),
		AnnounceTime:   m.AnnounceTime(),
		IsMaster:       m.IsMaster(),
		PrimaryLocalIP: primaryLocalIP,
		LocalIPs:       m.LocalIPs(),
		PublicIPs:      m.PublicIPs(),
		ExposedPorts:   m.ExposedPorts(),
	}
}

func (w *WebServer) writeJson(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	err := json.NewEncoder(rw).Encode(v)
	if err != nil {
		w.logger.Debug("failed to write json response", zap.Error(err))
	}
}

func (w *WebServer) writeError(rw http.ResponseWriter, err error) {
	status := http.StatusServiceUnavailable
	if errors.Is(err, membership.ErrMemberNotFound) || errors.Is(err, membership.ErrNoAddress) {
		status = http.StatusNotFound
	}

	w.writeJson(rw, status, &jsonError{Error: err.Error()})
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("Welcome to the stellar distributed internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

func (w *WebServer) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	_, err := w.resolver.Load(r.Context())
	if err != nil {
		w.writeError(rw, err)
		return
	}

	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("ok"))
}

func (w *WebServer) handleMembership(rw http.ResponseWriter, r *http.Request) {
	snap, err := w.resolver.Load(r.Context())
	if err != nil {
		w.writeError(rw, err)
		return
	}

	out := &jsonMembership{
		GroupName:     snap.GroupName(),
		RequiredCount: snap.RequiredCount(),
		SelfID:        snap.SelfID(),
	}
	for _, m := range snap.Members() {
		out.Members = append(out.Members, newJsonMember(m))
	}

	w.writeJson(rw, http.StatusOK, out)
}

func (w *WebServer) memberHandler(lookup func(r *http.Request) (*membership.Member, error)) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		m, err := lookup(r)
		if err != nil {
			w.writeError(rw, err)
			return
		}

		w.writeJson(rw, http.StatusOK, newJsonMember(m))
	}
}

func (w *WebServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", w.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/membership", w.handleMembership).Methods(http.MethodGet)
	r.HandleFunc("/membership/me", w.memberHandler(func(r *http.Request) (*membership.Member, error) {
		return w.resolver.Me()
	})).Methods(http.MethodGet)
	r.HandleFunc("/membership/master", w.memberHandler(func(r *http.Request) (*membership.Member, error) {
		return w.resolver.Master()
	})).Methods(http.MethodGet)
	r.HandleFunc("/membership/members/{key}", w.memberHandler(func(r *http.Request) (*membership.Member, error) {
		return w.resolver.Member(mux.Vars(r)["key"])
	})).Methods(http.MethodGet)
	if w.logLevel != nil {
		r.Handle("/loglevel", w.logLevel).Methods(http.MethodGet, http.MethodPut)
	}
	r.HandleFunc("/", w.handleRoot)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
		Debug:          w.debug,
	})

	return otelhttp.NewHandler(c.Handler(r), "webapi")
}

func (w *WebServer) ListenAndServe() error {
	w.logger.Info("starting web server", zap.String("address", w.listenAddress))
	return w.httpServer.ListenAndServe()
}

func (w *WebServer) Shutdown(ctx context.Context) error {
	return w.httpServer.Shutdown(ctx)
}
