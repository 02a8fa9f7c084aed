package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sushantsondhi/dcoord/common"
	"golang.org/x/exp/slices"
)

// Gateway exposes a node's operator surface over HTTP/JSON.
type Gateway struct {
	node common.RPCServer
	mux  *http.ServeMux

	mutex    sync.Mutex
	server   *http.Server
	listener net.Listener
}

type initiateRequest struct {
	Content *string `json:"content"`
}

type delayRequest struct {
	Seconds float64 `json:"seconds"`
}

type replyBody struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Action    string `json:"action,omitempty"`
	State     string `json:"state,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

type healthBody struct {
	ID                common.ProcessID   `json:"id"`
	Incarnation       uuid.UUID          `json:"incarnation"`
	Leader            common.ProcessID   `json:"leader"`
	Mutex             common.MutexState  `json:"mutex"`
	Clock             int64              `json:"clock"`
	ElectionActive    bool               `json:"election_active"`
	Pending           int                `json:"pending"`
	Delivered         int64              `json:"delivered"`
	CoordinatorLocked bool               `json:"coordinator_locked"`
	Waiting           []common.ProcessID `json:"waiting"`
}

type messageBody struct {
	ID        string           `json:"id"`
	Timestamp int64            `json:"timestamp"`
	SenderID  common.ProcessID `json:"sender_id"`
	Content   string           `json:"content"`
}

func New(node common.RPCServer) *Gateway {
	g := &Gateway{node: node, mux: http.NewServeMux()}
	g.mux.HandleFunc("/initiate", allow(g.handleInitiate, http.MethodPost))
	g.mux.HandleFunc("/mutex/request_resource", allow(g.handleRequestResource, http.MethodPost))
	g.mux.HandleFunc("/mutex/release_resource", allow(g.handleReleaseResource, http.MethodPost))
	g.mux.HandleFunc("/config/delay", allow(g.handleDelay, http.MethodPost))
	g.mux.HandleFunc("/election/start", allow(g.handleStartElection, http.MethodPost))
	g.mux.HandleFunc("/health", allow(g.handleHealth, http.MethodGet, http.MethodHead))
	g.mux.HandleFunc("/delivered", allow(g.handleDelivered, http.MethodGet))
	return g
}

func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// Start binds addr and serves in the background. It only returns error if
// it fails to bind.
func (g *Gateway) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           g.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.mutex.Lock()
	g.server = server
	g.listener = listener
	g.mutex.Unlock()

	go func() {
		log.Printf("gateway listening on %s\n", listener.Addr())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("gateway on %s: %v\n", listener.Addr(), err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" if the gateway is not started.
func (g *Gateway) Addr() string {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mutex.Lock()
	server := g.server
	g.server, g.listener = nil, nil
	g.mutex.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func allow(handler http.HandlerFunc, methods ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(methods, r.Method) {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}

// decodeBody decodes an optional JSON body; an empty body leaves v as is.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeReply maps an operator reply to an HTTP response. A refused
// operation is a conflict with the node's current state.
func writeReply(w http.ResponseWriter, reply common.Reply, withState bool) {
	body := replyBody{
		Status:    reply.Status,
		Reason:    reply.Reason,
		Action:    reply.Action,
		MessageID: reply.MessageID,
	}
	if withState {
		body.State = reply.State.String()
	}
	code := http.StatusOK
	if reply.Status == common.StatusError {
		code = http.StatusConflict
	}
	writeJSON(w, code, body)
}

// writeError reports a node that could not serve the call at all.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusServiceUnavailable, replyBody{Status: common.StatusError, Reason: err.Error()})
}

func (g *Gateway) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	content := "Ping"
	if req.Content != nil {
		content = *req.Content
	}
	var reply common.Reply
	if err := g.node.Initiate(&common.InitiateRPC{Content: content}, &reply); err != nil {
		writeError(w, err)
		return
	}
	writeReply(w, reply, false)
}

func (g *Gateway) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	var reply common.Reply
	if err := g.node.RequestResource(&common.OperatorRPC{Origin: r.RemoteAddr}, &reply); err != nil {
		writeError(w, err)
		return
	}
	writeReply(w, reply, true)
}

func (g *Gateway) handleReleaseResource(w http.ResponseWriter, r *http.Request) {
	var reply common.Reply
	if err := g.node.ReleaseResource(&common.OperatorRPC{Origin: r.RemoteAddr}, &reply); err != nil {
		writeError(w, err)
		return
	}
	writeReply(w, reply, reply.Status == common.StatusError)
}

func (g *Gateway) handleDelay(w http.ResponseWriter, r *http.Request) {
	var req delayRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	delay, err := common.DelayFromSeconds(req.Seconds)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var reply common.Reply
	if err := g.node.SetDelay(&common.DelayRPC{Delay: delay}, &reply); err != nil {
		writeError(w, err)
		return
	}
	writeReply(w, reply, false)
}

func (g *Gateway) handleStartElection(w http.ResponseWriter, r *http.Request) {
	var reply common.Reply
	if err := g.node.StartElection(&common.OperatorRPC{Origin: r.RemoteAddr}, &reply); err != nil {
		writeError(w, err)
		return
	}
	writeReply(w, reply, false)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	var status common.Status
	if err := g.node.Health(&common.OperatorRPC{Origin: r.RemoteAddr}, &status); err != nil {
		writeError(w, err)
		return
	}
	waiting := status.Waiting
	if waiting == nil {
		waiting = []common.ProcessID{}
	}
	writeJSON(w, http.StatusOK, healthBody{
		ID:                status.ID,
		Incarnation:       status.Incarnation,
		Leader:            status.Coordinator,
		Mutex:             status.MutexState,
		Clock:             status.Clock,
		ElectionActive:    status.ElectionActive,
		Pending:           status.Pending,
		Delivered:         status.Delivered,
		CoordinatorLocked: status.CoordinatorLocked,
		Waiting:           waiting,
	})
}

func (g *Gateway) handleDelivered(w http.ResponseWriter, r *http.Request) {
	var from int64
	if v := r.URL.Query().Get("from"); v != "" {
		var err error
		if from, err = strconv.ParseInt(v, 10, 64); err != nil || from < 0 {
			http.Error(w, "bad from", http.StatusBadRequest)
			return
		}
	}
	var result common.DeliveredRPCResult
	if err := g.node.Delivered(&common.DeliveredRPC{From: from}, &result); err != nil {
		writeError(w, err)
		return
	}
	messages := make([]messageBody, 0, len(result.Messages))
	for _, msg := range result.Messages {
		messages = append(messages, messageBody{
			ID:        msg.ID,
			Timestamp: msg.Timestamp,
			SenderID:  msg.SenderID,
			Content:   msg.Content,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		From     int64         `json:"from"`
		Messages []messageBody `json:"messages"`
	}{From: from, Messages: messages})
}
