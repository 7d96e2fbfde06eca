package server

import (
	"errors"
	"net/http"
)

// Request fields are pointers so validation checks presence only; empty
// values reach the invite table.
type inviteRequest struct {
	Password *string `json:"password" validate:"required"`
	Expires  *int64  `json:"expires" validate:"required"`
}

type dialRequest struct {
	Addr     *string `json:"addr" validate:"required"`
	Password *string `json:"password" validate:"required"`
}

type p2pInfo struct {
	PeerID    string   `json:"peer_id"`
	Addrs     []string `json:"addrs"`
	Connected int      `json:"connected"`
}

// Peers listed by GET /p2p/peers.
const peersListLimit = 100

// handleP2PInfo handles GET /p2p/info.
func (s *Server) handleP2PInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p2pInfo{
		PeerID:    s.node.PeerID(),
		Addrs:     s.node.ListenAddrs(),
		Connected: s.node.Connected(),
	})
}

// handleP2PPeers handles GET /p2p/peers, newest first.
func (s *Server) handleP2PPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.db.ListPeers(peersListLimit)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, peers)
}

// handleP2PInvite handles POST /p2p/invite. The response also carries the
// node's peer id, which a remote needs to dial the returned address.
func (s *Server) handleP2PInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := s.decodeJSON(r, &req); err != nil {
		if errors.Is(err, errInvalidJSON) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "password and expires required")
		return
	}

	addr, ok := s.node.FirstListenAddr()
	if !ok {
		writeError(w, http.StatusInternalServerError, "no p2p address")
		return
	}
	s.invites.Put(*req.Password, *req.Expires)
	writeJSON(w, http.StatusOK, map[string]any{
		"addr":     addr,
		"password": *req.Password,
		"expires":  *req.Expires,
		"peer_id":  s.node.PeerID(),
	})
}

// handleP2PDial handles POST /p2p/dial. The address is queued only when the
// password names an unexpired invite.
func (s *Server) handleP2PDial(w http.ResponseWriter, r *http.Request) {
	var req dialRequest
	if err := s.decodeJSON(r, &req); err != nil {
		if errors.Is(err, errInvalidJSON) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "addr and password required")
		return
	}

	if !s.invites.Valid(*req.Password, s.now().Unix()) {
		writeError(w, http.StatusUnauthorized, "invalid or expired invite")
		return
	}
	if err := s.node.Dial(r.Context(), *req.Addr); err != nil {
		s.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dialing", "addr": *req.Addr})
}
