package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProductKind identifies which catalog resource a product was built from.
type ProductKind int

const (
	KindSong ProductKind = iota + 1
	KindAlbum
	KindMerch
)

// Kinds lists every product kind in storefront order.
var Kinds = []ProductKind{KindSong, KindAlbum, KindMerch}

func (k ProductKind) String() string {
	switch k {
	case KindSong:
		return "song"
	case KindAlbum:
		return "album"
	case KindMerch:
		return "merch"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseProductKind accepts the lowercase kind name used in upstream paths.
func ParseProductKind(s string) (ProductKind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown product kind %q", s)
}

// SongDetails holds the fields only songs carry.
type SongDetails struct {
	SongID   int
	AlbumID  int
	Duration int // in seconds
}

// AlbumDetails holds the fields only albums carry.
type AlbumDetails struct {
	AlbumID  int
	SongList []string
}

// MerchDetails holds the fields only merchandise carries.
type MerchDetails struct {
	MerchID int
}

// Product is the unified storefront entry. Exactly one of Song, Album or
// Merch is set and it matches Kind. On the wire it flattens to a single
// object where the other kinds' fields hold zero values.
type Product struct {
	Kind          ProductKind
	Name          string
	Price         float64
	Description   string
	Artist        string
	Collaborators []string
	ReleaseDate   time.Time
	Genre         string
	Cover         string // base64 encoded image

	Song  *SongDetails
	Album *AlbumDetails
	Merch *MerchDetails
}

// productWire is the flat JSON shape the frontend consumes.
type productWire struct {
	SongID        int       `json:"songId"`
	AlbumID       int       `json:"albumId"`
	MerchID       int       `json:"merchId"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	Description   string    `json:"description"`
	Artist        string    `json:"artist"`
	Collaborators []string  `json:"collaborators"`
	ReleaseDate   time.Time `json:"releaseDate"`
	Duration      int       `json:"duration"`
	Genre         string    `json:"genre"`
	Cover         string    `json:"cover"`
	SongList      []string  `json:"songList"`
}

// MarshalJSON flattens the product into the wire schema.
func (p Product) MarshalJSON() ([]byte, error) {
	w := productWire{
		Name:          p.Name,
		Price:         p.Price,
		Description:   p.Description,
		Artist:        p.Artist,
		Collaborators: nonNil(p.Collaborators),
		ReleaseDate:   p.ReleaseDate.UTC(),
		Genre:         p.Genre,
		Cover:         p.Cover,
		SongList:      []string{},
	}

	switch p.Kind {
	case KindSong:
		if p.Song == nil {
			return nil, fmt.Errorf("song product %q has no song details", p.Name)
		}
		w.SongID = p.Song.SongID
		w.AlbumID = p.Song.AlbumID
		w.Duration = p.Song.Duration
	case KindAlbum:
		if p.Album == nil {
			return nil, fmt.Errorf("album product %q has no album details", p.Name)
		}
		w.AlbumID = p.Album.AlbumID
		w.SongList = nonNil(p.Album.SongList)
	case KindMerch:
		if p.Merch == nil {
			return nil, fmt.Errorf("merch product %q has no merch details", p.Name)
		}
		w.MerchID = p.Merch.MerchID
	default:
		return nil, fmt.Errorf("product %q has invalid kind %v", p.Name, p.Kind)
	}

	return json.Marshal(w)
}

// UnmarshalJSON restores a product from the wire schema, inferring the kind
// from the populated identity fields.
func (p *Product) UnmarshalJSON(data []byte) error {
	var w struct {
		productWire
		LegacyCollaborators []string `json:"colaborators"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	collaborators := w.Collaborators
	if collaborators == nil {
		collaborators = w.LegacyCollaborators
	}

	*p = Product{
		Name:          w.Name,
		Price:         w.Price,
		Description:   w.Description,
		Artist:        w.Artist,
		Collaborators: nonNil(collaborators),
		ReleaseDate:   w.ReleaseDate,
		Genre:         w.Genre,
		Cover:         w.Cover,
	}

	switch {
	case w.SongID != 0:
		p.Kind = KindSong
		p.Song = &SongDetails{SongID: w.SongID, AlbumID: w.AlbumID, Duration: w.Duration}
	case w.AlbumID != 0:
		p.Kind = KindAlbum
		p.Album = &AlbumDetails{AlbumID: w.AlbumID, SongList: nonNil(w.SongList)}
	case w.MerchID != 0:
		p.Kind = KindMerch
		p.Merch = &MerchDetails{MerchID: w.MerchID}
	default:
		return fmt.Errorf("product %q has no songId, albumId or merchId", w.Name)
	}
	return nil
}

// ID returns the identifier that belongs to the product's kind.
func (p Product) ID() int {
	switch {
	case p.Kind == KindSong && p.Song != nil:
		return p.Song.SongID
	case p.Kind == KindAlbum && p.Album != nil:
		return p.Album.AlbumID
	case p.Kind == KindMerch && p.Merch != nil:
		return p.Merch.MerchID
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
