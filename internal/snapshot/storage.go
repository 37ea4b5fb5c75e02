package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketMembers = []byte("members")

// MemberSet is the resolved recipient-ID set of one segment at one point in
// time. Like the cached segment size, it is stale by design until the next
// recalculation.
type MemberSet struct {
	SegmentID  string    `json:"segment_id"`
	MemberIDs  []string  `json:"member_ids"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Storage persists resolved member sets, keyed by segment ID.
type Storage struct {
	db *bolt.DB
}

// New creates member-set storage using the provided BoltDB instance
func New(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMembers)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create members bucket: %w", err)
	}

	return &Storage{db: db}, nil
}

// Save stores the member set for a segment, replacing any previous one
func (s *Storage) Save(ctx context.Context, set *MemberSet) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMembers)

		data, err := json.Marshal(set)
		if err != nil {
			return fmt.Errorf("failed to marshal member set: %w", err)
		}

		return bucket.Put([]byte(set.SegmentID), data)
	})
}

// Get retrieves the member set for a segment, or nil when none was stored
func (s *Storage) Get(ctx context.Context, segmentID string) (*MemberSet, error) {
	var set *MemberSet

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMembers)
		data := bucket.Get([]byte(segmentID))
		if data == nil {
			return nil
		}

		var m MemberSet
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("failed to unmarshal member set: %w", err)
		}
		set = &m
		return nil
	})

	return set, err
}

// Delete removes the member set for a segment
func (s *Storage) Delete(ctx context.Context, segmentID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMembers).Delete([]byte(segmentID))
	})
}
