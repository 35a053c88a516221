package store

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"oversounds/internal/config"
	"oversounds/internal/logging"
	"oversounds/internal/tya"
	"oversounds/internal/tya/tyatest"
	"oversounds/pkg/models"
)

type fakeRecorder struct {
	mu   sync.Mutex
	runs []models.Run
	err  error
}

func (f *fakeRecorder) RecordRun(ctx context.Context, run models.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return f.err
}

func newTestStorefront(upstream *tyatest.Server, policy string, recorder RunRecorder) *Storefront {
	client := tya.NewClient(upstream.URL, 5*time.Second, nil, logging.Discard())
	return New(client, policy, recorder, logging.Discard())
}

// fullCatalog serves two songs, one album and one merch item.
func fullCatalog(upstream *tyatest.Server) {
	upstream.SetFilter("song", `[{"songId":1},{"songId":2}]`)
	upstream.SetList("song", `[
		{"songId":1,"title":"One","artistId":4,"releaseDate":"2024-01-01","price":1.99,"genres":[7],"albumId":3,"duration":180},
		{"songId":2,"title":"Two","artistId":4,"releaseDate":"2024-01-02","price":2.99,"genres":[],"albumId":3,"duration":200}
	]`)
	upstream.SetFilter("album", `[{"albumId":3}]`)
	upstream.SetList("album", `[{"albumId":3,"title":"Both","artistId":4,"releaseDate":"2024-01-03","price":4.5,"songs":[1,2],"genres":[7]}]`)
	upstream.SetFilter("merch", `[{"merchId":0},{"merchId":5}]`)
	upstream.SetList("merch", `[{"merchId":5,"title":"Shirt","artistId":4,"releaseDate":"2024-01-04","price":15}]`)
}

func TestProductsOrder(t *testing.T) {
	upstream := tyatest.NewServer()
	defer upstream.Close()
	fullCatalog(upstream)

	recorder := &fakeRecorder{}
	sf := newTestStorefront(upstream, config.FailurePolicyShared, recorder)

	products, err := sf.Products(context.Background())
	if err != nil {
		t.Fatalf("Products() error = %v", err)
	}

	want := []struct {
		kind  models.ProductKind
		id    int
		genre string
	}{
		{models.KindSong, 1, "7"},
		{models.KindSong, 2, DefaultGenre},
		{models.KindAlbum, 3, MerchGenre},
		{models.KindMerch, 5, MerchGenre},
	}
	if len(products) != len(want) {
		t.Fatalf("Products() returned %d products, want %d", len(products), len(want))
	}
	for i, w := range want {
		p := products[i]
		if p.Kind != w.kind || p.ID() != w.id || p.Genre != w.genre {
			t.Errorf("products[%d] = %v/%d/%q, want %v/%d/%q", i, p.Kind, p.ID(), p.Genre, w.kind, w.id, w.genre)
		}
	}
	if products[0].Price != 1.99 || products[1].Price != 2.99 {
		t.Errorf("song prices = %v, %v", products[0].Price, products[1].Price)
	}

	if reqs := upstream.RequestsTo("/merch/list"); len(reqs) != 1 || reqs[0] != "/merch/list?ids=5" {
		t.Errorf("merch list requests = %v, want [/merch/list?ids=5]", reqs)
	}

	if len(recorder.runs) != 1 {
		t.Fatalf("recorded %d runs, want 1", len(recorder.runs))
	}
	run := recorder.runs[0]
	if run.Songs != 2 || run.Albums != 1 || run.Merch != 1 || run.Total() != 4 {
		t.Errorf("run counts = %+v", run)
	}
	if len(run.Degraded) != 0 || run.Error != "" {
		t.Errorf("run should be clean: %+v", run)
	}
	if run.ID == "" {
		t.Error("run has no ID")
	}
}

func TestProductsEmptyCatalog(t *testing.T) {
	upstream := tyatest.NewServer()
	defer upstream.Close()

	products, err := newTestStorefront(upstream, config.FailurePolicyShared, nil).Products(context.Background())
	if err != nil {
		t.Fatalf("Products() error = %v", err)
	}
	if products == nil || len(products) != 0 {
		t.Errorf("Products() = %v, want empty non-nil slice", products)
	}

	for _, kind := range []string{"song", "album", "merch"} {
		if reqs := upstream.RequestsTo("/" + kind + "/list"); len(reqs) != 0 {
			t.Errorf("unexpected list call for %s: %v", kind, reqs)
		}
	}
}

func TestSharedFailurePolicy(t *testing.T) {
	tests := []struct {
		name string
		fail string
	}{
		{name: "song filter", fail: "/song/filter"},
		{name: "album filter", fail: "/album/filter"},
		{name: "merch list", fail: "/merch/list"},
		{name: "song list", fail: "/song/list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := tyatest.NewServer()
			defer upstream.Close()
			fullCatalog(upstream)
			upstream.Fail(tt.fail, http.StatusInternalServerError)

			recorder := &fakeRecorder{}
			products, err := newTestStorefront(upstream, config.FailurePolicyShared, recorder).Products(context.Background())
			if err != nil {
				t.Fatalf("Products() error = %v", err)
			}
			if len(products) != 0 {
				t.Errorf("Products() returned %d products, want 0", len(products))
			}
			if len(recorder.runs) != 1 || len(recorder.runs[0].Degraded) != 3 {
				t.Errorf("expected every kind degraded, got %+v", recorder.runs)
			}
		})
	}
}

func TestPerKindFailurePolicy(t *testing.T) {
	upstream := tyatest.NewServer()
	defer upstream.Close()
	fullCatalog(upstream)
	upstream.Fail("/album/list", http.StatusBadGateway)

	recorder := &fakeRecorder{}
	products, err := newTestStorefront(upstream, config.FailurePolicyPerKind, recorder).Products(context.Background())
	if err != nil {
		t.Fatalf("Products() error = %v", err)
	}

	if len(products) != 3 {
		t.Fatalf("Products() returned %d products, want 3", len(products))
	}
	for _, p := range products {
		if p.Kind == models.KindAlbum {
			t.Errorf("album %d should have been dropped", p.ID())
		}
	}
	if products[2].Kind != models.KindMerch {
		t.Errorf("last product kind = %v, want merch", products[2].Kind)
	}

	run := recorder.runs[0]
	if len(run.Degraded) != 1 || run.Degraded[0] != "album" {
		t.Errorf("Degraded = %v, want [album]", run.Degraded)
	}
}

func TestUnreachableUpstream(t *testing.T) {
	upstream := tyatest.NewServer()
	upstream.Close()

	products, err := newTestStorefront(upstream, config.FailurePolicyShared, nil).Products(context.Background())
	if err != nil {
		t.Fatalf("Products() error = %v", err)
	}
	if len(products) != 0 {
		t.Errorf("Products() returned %d products, want 0", len(products))
	}
}

func TestUndatedRecordsAreServed(t *testing.T) {
	upstream := tyatest.NewServer()
	defer upstream.Close()
	upstream.SetFilter("song", `[{"songId":1},{"songId":2},{"songId":3}]`)
	upstream.SetList("song", `[
		{"songId":1,"title":"One","releaseDate":"2024-01-01"},
		{"songId":2,"title":"Two","releaseDate":null},
		{"songId":3,"title":"Three","releaseDate":"yesterday"}
	]`)

	recorder := &fakeRecorder{}
	products, err := newTestStorefront(upstream, config.FailurePolicyShared, recorder).Products(context.Background())
	if err != nil {
		t.Fatalf("Products() error = %v", err)
	}
	if len(products) != 3 {
		t.Fatalf("Products() returned %d products, want 3", len(products))
	}

	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !products[0].ReleaseDate.Equal(want) {
		t.Errorf("products[0].ReleaseDate = %v, want %v", products[0].ReleaseDate, want)
	}
	for _, p := range products[1:] {
		if !p.ReleaseDate.IsZero() {
			t.Errorf("%s ReleaseDate = %v, want zero", p.Name, p.ReleaseDate)
		}
	}
	if len(recorder.runs) != 1 || recorder.runs[0].Error != "" {
		t.Errorf("run = %+v, want one successful run", recorder.runs)
	}
}

func TestRecorderErrorIgnored(t *testing.T) {
	upstream := tyatest.NewServer()
	defer upstream.Close()
	fullCatalog(upstream)

	recorder := &fakeRecorder{err: errors.New("disk full")}
	products, err := newTestStorefront(upstream, "", recorder).Products(context.Background())
	if err != nil {
		t.Fatalf("Products() error = %v", err)
	}
	if len(products) != 4 {
		t.Errorf("Products() returned %d products, want 4", len(products))
	}
}

func TestFilterKind(t *testing.T) {
	products := []models.Product{
		{Kind: models.KindSong, Song: &models.SongDetails{SongID: 1}},
		{Kind: models.KindMerch, Merch: &models.MerchDetails{MerchID: 2}},
		{Kind: models.KindSong, Song: &models.SongDetails{SongID: 3}},
	}

	songs := FilterKind(products, models.KindSong)
	if len(songs) != 2 || songs[0].ID() != 1 || songs[1].ID() != 3 {
		t.Errorf("FilterKind(song) = %v", songs)
	}
	if albums := FilterKind(products, models.KindAlbum); len(albums) != 0 {
		t.Errorf("FilterKind(album) = %v, want empty", albums)
	}
}
