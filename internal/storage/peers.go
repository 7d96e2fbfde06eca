package storage

import (
	"database/sql"
	"fmt"
)

// UpsertPeer records an observation of peerID. lastAddr may be empty, in which
// case last_addr is stored as NULL.
func (d *DB) UpsertPeer(peerID, lastAddr string, lastSeen int64) error {
	var addr sql.NullString
	if lastAddr != "" {
		addr = sql.NullString{String: lastAddr, Valid: true}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(
		`INSERT INTO peers (peer_id, last_addr, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET last_addr = excluded.last_addr, last_seen = excluded.last_seen`,
		peerID, addr, lastSeen,
	)
	if err != nil {
		return fmt.Errorf("upsert peer: %w", err)
	}
	return nil
}

// UpsertPeerAddr records that peerID was seen at addr.
func (d *DB) UpsertPeerAddr(peerID, addr string, lastSeen int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(
		`INSERT INTO peer_addrs (peer_id, addr, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(peer_id, addr) DO UPDATE SET last_seen = excluded.last_seen`,
		peerID, addr, lastSeen,
	)
	if err != nil {
		return fmt.Errorf("upsert peer addr: %w", err)
	}
	return nil
}

// RecentPeerAddrs returns up to limit addresses ordered by last_seen, newest
// first. When minLastSeen is non-nil only rows seen at or after it are returned.
func (d *DB) RecentPeerAddrs(limit int, minLastSeen *int64) ([]PeerAddr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		rows *sql.Rows
		err  error
	)
	if minLastSeen != nil {
		rows, err = d.db.Query(
			`SELECT peer_id, addr, last_seen FROM peer_addrs
			 WHERE last_seen >= ? ORDER BY last_seen DESC LIMIT ?`,
			*minLastSeen, limit,
		)
	} else {
		rows, err = d.db.Query(
			`SELECT peer_id, addr, last_seen FROM peer_addrs
			 ORDER BY last_seen DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("recent peer addrs: %w", err)
	}
	defer rows.Close()

	var addrs []PeerAddr
	for rows.Next() {
		var pa PeerAddr
		if err := rows.Scan(&pa.PeerID, &pa.Addr, &pa.LastSeen); err != nil {
			return nil, fmt.Errorf("scan peer addr: %w", err)
		}
		addrs = append(addrs, pa)
	}
	return addrs, rows.Err()
}

// ListPeers returns up to limit peer summaries, most recently seen first.
func (d *DB) ListPeers(limit int) ([]PeerSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.Query(
		`SELECT peer_id, last_addr, last_seen FROM peers ORDER BY last_seen DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	peers := []PeerSummary{}
	for rows.Next() {
		var p PeerSummary
		var lastAddr sql.NullString
		if err := rows.Scan(&p.PeerID, &lastAddr, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		if lastAddr.Valid {
			p.LastAddr = &lastAddr.String
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}
