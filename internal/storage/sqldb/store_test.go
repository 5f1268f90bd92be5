package sqldb

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLDBStore_PutAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	route := &domain.Route{ServiceID: "img", TenantID: "bear", Destination: "https://placebear.com"}
	if err := store.PutRoute(ctx, route); err != nil {
		t.Fatalf("PutRoute() error = %v", err)
	}

	got, err := store.Lookup(ctx, domain.SubdomainKey{ServiceID: "img", TenantID: "bear"})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != "https://placebear.com" {
		t.Errorf("Lookup() = %q", got)
	}

	_, err = store.Lookup(ctx, domain.SubdomainKey{ServiceID: "img", TenantID: "cat"})
	if !errors.Is(err, domain.ErrRouteNotFound) {
		t.Errorf("Lookup(missing) error = %v, want ErrRouteNotFound", err)
	}

	// case-sensitive exact match
	_, err = store.Lookup(ctx, domain.SubdomainKey{ServiceID: "IMG", TenantID: "bear"})
	if !errors.Is(err, domain.ErrRouteNotFound) {
		t.Errorf("Lookup(IMG) error = %v, want ErrRouteNotFound", err)
	}
}

func TestSQLDBStore_PutRouteUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutRoute(ctx, &domain.Route{ServiceID: "img", TenantID: "dog", Destination: "https://old.example"}); err != nil {
		t.Fatalf("PutRoute() error = %v", err)
	}
	if err := store.PutRoute(ctx, &domain.Route{ServiceID: "img", TenantID: "dog", Destination: "https://place.dog"}); err != nil {
		t.Fatalf("PutRoute() error = %v", err)
	}

	routes, err := store.ListRoutes(ctx)
	if err != nil {
		t.Fatalf("ListRoutes() error = %v", err)
	}
	if len(routes) != 1 {
		t.Fatalf("ListRoutes() returned %d routes, want 1", len(routes))
	}
	if routes[0].Destination != "https://place.dog" {
		t.Errorf("Destination = %q", routes[0].Destination)
	}
}

func TestSQLDBStore_ListRoutesOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"search-domains", "img-dog", "img-bear"} {
		k, _ := domain.ParseKey(key)
		if err := store.PutRoute(ctx, &domain.Route{ServiceID: k.ServiceID, TenantID: k.TenantID, Destination: "https://x.example"}); err != nil {
			t.Fatalf("PutRoute(%s) error = %v", key, err)
		}
	}

	routes, err := store.ListRoutes(ctx)
	if err != nil {
		t.Fatalf("ListRoutes() error = %v", err)
	}
	var keys []string
	for _, r := range routes {
		keys = append(keys, r.Key().String())
	}
	if fmt.Sprint(keys) != "[img-bear img-dog search-domains]" {
		t.Errorf("keys = %v", keys)
	}
}

func TestSQLDBStore_DeleteRoute(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := domain.SubdomainKey{ServiceID: "search", TenantID: "books"}

	if err := store.PutRoute(ctx, &domain.Route{ServiceID: "search", TenantID: "books", Destination: "https://openlibrary.org"}); err != nil {
		t.Fatalf("PutRoute() error = %v", err)
	}
	if err := store.DeleteRoute(ctx, key); err != nil {
		t.Fatalf("DeleteRoute() error = %v", err)
	}
	if err := store.DeleteRoute(ctx, key); !errors.Is(err, domain.ErrRouteNotFound) {
		t.Errorf("second DeleteRoute() error = %v, want ErrRouteNotFound", err)
	}
	if _, err := store.Lookup(ctx, key); !errors.Is(err, domain.ErrRouteNotFound) {
		t.Errorf("Lookup() after delete error = %v", err)
	}
}

func TestSQLDBStore_Events(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	events := []*domain.ResolutionEvent{
		{ID: "e1", Type: domain.ResolutionEventResolved, Host: "img-bear.example.com", ServiceID: "img", TenantID: "bear",
			Destination: "https://placebear.com", OriginDomain: "placebear.com", Timestamp: base},
		{ID: "e2", Type: domain.ResolutionEventMalformedHost, Host: "onlyservice.example.com",
			OriginDomain: "fb.s3.amazonaws.com", Timestamp: base.Add(time.Second)},
		{ID: "e3", Type: domain.ResolutionEventLookupFailed, Host: "img-dog.example.com", ServiceID: "img", TenantID: "dog",
			OriginDomain: "fb.s3.amazonaws.com", Error: "timeout", Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent(%s) error = %v", e.ID, err)
		}
	}

	all, err := store.ListEvents(ctx, ports.EventListOptions{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListEvents() returned %d events, want 3", len(all))
	}
	if all[0].ID != "e3" {
		t.Errorf("first event = %s, want newest e3", all[0].ID)
	}
	if all[0].Error != "timeout" {
		t.Errorf("Error = %q", all[0].Error)
	}

	failed, err := store.ListEvents(ctx, ports.EventListOptions{Type: domain.ResolutionEventMalformedHost})
	if err != nil {
		t.Fatalf("ListEvents(type) error = %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "e2" {
		t.Errorf("ListEvents(type) = %+v", failed)
	}

	page, err := store.ListEvents(ctx, ports.EventListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListEvents(page) error = %v", err)
	}
	if len(page) != 1 || page[0].ID != "e2" {
		t.Errorf("ListEvents(page) = %+v", page)
	}
}
