package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/rgranatodutra/wwebjs-api/errors"
	"github.com/rgranatodutra/wwebjs-api/storage"
	"github.com/rgranatodutra/wwebjs-api/wire"
)

// SaveRawMessage upserts one raw protocol payload keyed by (session, stanza
// id). Re-delivery of the same message updates the payload in place.
func (s *Store) SaveRawMessage(ctx context.Context, sessionID string, msg *waE2E.Message, key wire.MessageKey) error {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return errors.WrapInvalid(err, "Store", "SaveRawMessage", "marshaling payload "+key.ID)
	}

	keyJSON, err := json.Marshal(key)
	if err != nil {
		return errors.WrapInvalid(err, "Store", "SaveRawMessage", "marshaling key "+key.ID)
	}

	now := time.Now().UTC()
	fromMe := 0
	if key.FromMe {
		fromMe = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raw_messages (session_id, message_id, remote_jid, from_me, payload, key_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, message_id) DO UPDATE SET
			remote_jid = excluded.remote_jid,
			from_me = excluded.from_me,
			payload = excluded.payload,
			key_json = excluded.key_json,
			updated_at = excluded.updated_at`,
		sessionID, key.ID, key.RemoteJID, fromMe, payload, string(keyJSON), now, now)
	if err != nil {
		return errors.WrapTransient(err, "Store", "SaveRawMessage", "upserting message "+key.ID)
	}
	return nil
}

// GetRawMessage returns the raw payload for a key, or nil when unknown. Read
// failures degrade to nil; the protocol library treats this store as a
// best-effort cache.
func (s *Store) GetRawMessage(ctx context.Context, sessionID string, key wire.MessageKey) *waE2E.Message {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM raw_messages WHERE session_id = ? AND message_id = ?`,
		sessionID, key.ID).Scan(&payload)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("raw message read failed", "message_id", key.ID, "error", err)
		}
		return nil
	}

	var msg waE2E.Message
	if err := proto.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("raw message payload corrupt", "message_id", key.ID, "error", err)
		return nil
	}
	return &msg
}

// GetFullRawMessage returns the full stored record for a stanza id.
func (s *Store) GetFullRawMessage(ctx context.Context, sessionID, messageID string) (*storage.RawMessageRecord, error) {
	record := &storage.RawMessageRecord{
		SessionID: sessionID,
		MessageID: messageID,
	}

	var payload []byte
	var keyJSON string
	var fromMe int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, remote_jid, from_me, payload, key_json, created_at, updated_at
		FROM raw_messages WHERE session_id = ? AND message_id = ?`,
		sessionID, messageID).Scan(
		&record.ID, &record.RemoteJID, &fromMe, &payload, &keyJSON,
		&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrap(errors.ErrMessageNotFound, "Store", "GetFullRawMessage", "looking up "+messageID)
		}
		return nil, errors.WrapTransient(err, "Store", "GetFullRawMessage", "querying message "+messageID)
	}

	record.FromMe = fromMe != 0

	var msg waE2E.Message
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return nil, errors.WrapInvalid(err, "Store", "GetFullRawMessage", "unmarshaling payload "+messageID)
	}
	record.Message = &msg

	if err := json.Unmarshal([]byte(keyJSON), &record.Key); err != nil {
		return nil, errors.WrapInvalid(err, "Store", "GetFullRawMessage", "unmarshaling key "+messageID)
	}

	return record, nil
}

// SaveGroupMetadata upserts a cached group metadata blob.
func (s *Store) SaveGroupMetadata(ctx context.Context, sessionID, jid string, metadata []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_metadata (session_id, jid, metadata, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, jid) DO UPDATE SET
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		sessionID, jid, metadata, time.Now().UTC())
	if err != nil {
		return errors.WrapTransient(err, "Store", "SaveGroupMetadata", "upserting metadata for "+jid)
	}
	return nil
}

// GetGroupMetadata returns the cached blob for a group JID, or nil when
// unknown. Read failures degrade to nil.
func (s *Store) GetGroupMetadata(ctx context.Context, sessionID, jid string) []byte {
	var metadata []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT metadata FROM group_metadata WHERE session_id = ? AND jid = ?`,
		sessionID, jid).Scan(&metadata)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("group metadata read failed", "jid", jid, "error", err)
		}
		return nil
	}
	return metadata
}
