package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Bridge is what the HTTP surface drives.
type Bridge interface {
	Send(ctx context.Context, to types.JID, text string) error
	Logout(ctx context.Context) error
}

// SendMessageRequest represents the request body for the send message API
type SendMessageRequest struct {
	JID     string `json:"jid"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server exposes the status page, the status JSON and the send/logout actions.
type Server struct {
	state    *BridgeState
	bridge   Bridge
	instance string
	log      waLog.Logger
}

func NewServer(state *BridgeState, bridge Bridge, instance string, log waLog.Logger) *Server {
	return &Server{state: state, bridge: bridge, instance: instance, log: log}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverMiddleware)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	return r
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Errorf("💥 Panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: panicError(rec).Error()})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	name := html.EscapeString(s.instance)
	fmt.Fprintf(w, statusPage, name, name)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request format"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}
	to, err := recipientJID(req.JID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.log.Infof("📤 Send request: %s", to)
	if err := s.bridge.Send(r.Context(), to, req.Message); err != nil {
		s.log.Errorf("Failed to send to %s: %v", to, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.bridge.Logout(ctx); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrStartInProgress) {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<script>alert("Sesión cerrada, generando nuevo QR..."); window.location.href = "/";</script>`)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const statusPage = `<!DOCTYPE html>
<html>
<head>
	<title>WhatsApp Bridge - %s</title>
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<style>
		body { font-family: Arial, sans-serif; text-align: center; padding: 20px; background: #f5f5f5; }
		.container { max-width: 420px; margin: 0 auto; background: white; padding: 30px; border-radius: 10px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
		.status { padding: 10px; border-radius: 5px; margin: 10px 0; background: #fff3cd; color: #856404; }
		.status.Connected { background: #d4edda; color: #155724; }
		.status.SessionClosed { background: #f8d7da; color: #721c24; }
		#qr img { width: 256px; height: 256px; border: 1px solid #ddd; padding: 10px; background: white; }
		button { margin-top: 15px; padding: 8px 16px; }
	</style>
</head>
<body>
	<div class="container">
		<h2>🚀 WhatsApp Bridge: %s</h2>
		<div id="status" class="status">Cargando...</div>
		<div id="number"></div>
		<div id="qr"></div>
		<form method="post" action="/logout"><button type="submit">Cerrar sesión</button></form>
	</div>
	<script>
		async function refresh() {
			try {
				const res = await fetch('/status');
				const data = await res.json();
				const el = document.getElementById('status');
				el.className = 'status ' + data.status;
				el.textContent = 'Estado: ' + data.status;
				document.getElementById('number').textContent = data.number ? 'Número: ' + data.number : '';
				document.getElementById('qr').innerHTML = data.qr ? '<img src="' + data.qr + '" alt="QR Code">' : '';
			} catch (e) {
				document.getElementById('status').textContent = 'Sin respuesta del servidor';
			}
		}
		refresh();
		setInterval(refresh, 2000);
	</script>
</body>
</html>`
