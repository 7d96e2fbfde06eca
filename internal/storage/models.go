// internal/storage/models.go
package storage

type PeerSummary struct {
	PeerID   string  `json:"peer_id"`
	LastAddr *string `json:"last_addr"`
	LastSeen int64   `json:"last_seen"`
}

type PeerAddr struct {
	PeerID   string `json:"peer_id"`
	Addr     string `json:"addr"`
	LastSeen int64  `json:"last_seen"`
}

type User struct {
	Username  string `json:"username"`
	PwdHash   []byte `json:"-"`
	Salt      []byte `json:"-"` // textual base64 salt, stored as bytes
	CreatedTS int64  `json:"created_ts"`
	ExpiresTS *int64 `json:"expires_ts,omitempty"`
}
