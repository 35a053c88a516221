package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"oversounds/internal/tya"
	"oversounds/pkg/models"
)

// ErrMapping marks failures while assembling the product list, such as a
// panic in a converter. They are internal errors, unlike upstream failures.
var ErrMapping = errors.New("product mapping failed")

const (
	// MerchGenre is the genre every merch product carries. Albums carry it
	// too; the frontend relies on that value.
	MerchGenre = "Merch"
	// DefaultGenre is used for songs without upstream genres.
	DefaultGenre = "0"
)

// MapSong converts an upstream song into a product. Like the other
// converters it never fails: an unusable release date is left zero.
func MapSong(r tya.SongRecord) models.Product {
	p := mapCommon(models.KindSong, r.CommonRecord)
	p.Genre = firstGenre(r.Genres)
	p.Song = &models.SongDetails{
		SongID:   r.SongID,
		AlbumID:  r.AlbumID,
		Duration: r.Duration,
	}
	return p
}

// MapAlbum converts an upstream album into a product. Upstream album genres
// are ignored.
func MapAlbum(r tya.AlbumRecord) models.Product {
	p := mapCommon(models.KindAlbum, r.CommonRecord)
	p.Genre = MerchGenre
	p.Album = &models.AlbumDetails{
		AlbumID:  r.AlbumID,
		SongList: r.Songs.Strings(),
	}
	return p
}

// MapMerch converts an upstream merchandise item into a product.
func MapMerch(r tya.MerchRecord) models.Product {
	p := mapCommon(models.KindMerch, r.CommonRecord)
	p.Genre = MerchGenre
	p.Merch = &models.MerchDetails{MerchID: r.MerchID}
	return p
}

func mapCommon(kind models.ProductKind, c tya.CommonRecord) models.Product {
	released, _ := ParseReleaseDate(c.ReleaseDate)

	return models.Product{
		Kind:          kind,
		Name:          c.Title,
		Price:         c.Price,
		Description:   c.Description,
		Artist:        string(c.ArtistID),
		Collaborators: c.Collaborators.Strings(),
		ReleaseDate:   released,
		Cover:         c.Cover,
	}
}

// ParseReleaseDate turns the upstream date-only value into midnight UTC of
// that day. Full RFC 3339 timestamps are truncated to their date. On error
// the zero time is returned.
func ParseReleaseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("release date is missing")
	}

	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, d := ts.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("release date %q is not YYYY-MM-DD", s)
}

func firstGenre(genres tya.TextList) string {
	if len(genres) == 0 || genres[0] == "" {
		return DefaultGenre
	}
	return string(genres[0])
}
