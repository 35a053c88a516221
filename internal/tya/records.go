package tya

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Text is an upstream scalar rendered as text. Numbers keep their literal
// form, strings are taken as-is and null becomes empty.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected number or string, got %s", data)
		}
		*t = Text(n.String())
	}
	return nil
}

// TextList is an upstream array of identifiers rendered as text.
type TextList []Text

// Strings returns the list as plain strings, never nil.
func (l TextList) Strings() []string {
	out := make([]string, 0, len(l))
	for _, t := range l {
		out = append(out, string(t))
	}
	return out
}

// CommonRecord holds the fields every catalog resource shares.
type CommonRecord struct {
	Title         string   `json:"title"`
	ArtistID      Text     `json:"artistId"`
	ReleaseDate   string   `json:"releaseDate"`
	Description   string   `json:"description"`
	Cover         string   `json:"cover"`
	Price         float64  `json:"price"`
	Collaborators TextList `json:"collaborators"`
}

// SongRecord is a full song as returned by /song/list.
type SongRecord struct {
	CommonRecord
	SongID   int      `json:"songId"`
	AlbumID  int      `json:"albumId"`
	Duration int      `json:"duration"`
	Genres   TextList `json:"genres"`
}

// AlbumRecord is a full album as returned by /album/list.
type AlbumRecord struct {
	CommonRecord
	AlbumID int      `json:"albumId"`
	Songs   TextList `json:"songs"`
	Genres  TextList `json:"genres"`
}

// MerchRecord is a full merchandise item as returned by /merch/list.
type MerchRecord struct {
	CommonRecord
	MerchID int `json:"merchId"`
}

// Catalog groups the detail records of one storefront build.
type Catalog struct {
	Songs  []SongRecord
	Albums []AlbumRecord
	Merch  []MerchRecord
}

// parseIdentifier interprets one identifier value from a filter response.
// Missing, null, zero and non-integer values report ok=false.
func parseIdentifier(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
	} else {
		text = string(raw)
	}

	id, err := strconv.Atoi(text)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
