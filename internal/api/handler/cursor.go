package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/api/storage"
)

// DecodeLeadCursor parses an opaque page cursor. An empty string means the
// first page.
func DecodeLeadCursor(cursorStr string) (*storage.LeadCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	createdAtPart, leadID, found := strings.Cut(string(decoded), "|")
	if !found || leadID == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(createdAtPart, "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &storage.LeadCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		LeadID:    leadID,
	}, nil
}

// EncodeLeadCursor renders the cursor pointing after the given lead
func EncodeLeadCursor(cursor *storage.LeadCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.LeadID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
