package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

func TestSession_FindCurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	session := f.svc.NewSession("user-1")

	if _, err := session.FindCurrent(ctx, false); !errors.Is(err, domain.ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}

	created, err := session.FindCurrent(ctx, true)
	if err != nil {
		t.Fatalf("find current with force: %v", err)
	}
	if !created.IsCurrent() || created.OwnerID() != "user-1" {
		t.Fatalf("unexpected cart: %+v", created.Record())
	}
	again, err := session.FindCurrent(ctx, true)
	if err != nil || again != created {
		t.Fatalf("expected memoized cart, err=%v", err)
	}

	other, err := f.svc.NewSession("user-1").FindCurrent(ctx, false)
	if err != nil {
		t.Fatalf("find current from new session: %v", err)
	}
	if other.ID() != created.ID() {
		t.Fatalf("expected the same current cart, got %s and %s", other.ID(), created.ID())
	}

	if _, err := f.svc.NewSession("").FindCurrent(ctx, true); !errors.Is(err, domain.ErrOwnerRequired) {
		t.Fatalf("expected ErrOwnerRequired for guest, got %v", err)
	}
}

// racyCarts прячет корзину current от первого чтения, как будто её создал параллельный запрос.
type racyCarts struct {
	domain.CartRepository
	misses int
}

func (r *racyCarts) FindCurrent(ctx context.Context, ownerID string) (domain.Cart, error) {
	if r.misses > 0 {
		r.misses--
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return r.CartRepository.FindCurrent(ctx, ownerID)
}

func TestSession_FindCurrentReloadsConcurrentWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	winner := f.currentCart(t, ctx, "user-1")

	deps := f.deps()
	deps.Carts = &racyCarts{CartRepository: f.carts, misses: 1}
	f.rebuild(deps)

	got, err := f.svc.NewSession("user-1").FindCurrent(ctx, true)
	if err != nil {
		t.Fatalf("find current: %v", err)
	}
	if got.ID() != winner.ID() {
		t.Fatalf("expected winner %s, got %s", winner.ID(), got.ID())
	}

	carts, err := f.carts.ListByOwner(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(carts) != 1 {
		t.Fatalf("expected a single cart for owner, got %d", len(carts))
	}
}

func TestSession_CourseShortcutsAndListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	session := f.svc.NewSession("user-1")

	if !session.AddCourse(ctx, "course-b") {
		t.Fatalf("expected course to be added")
	}
	if session.AddCourse(ctx, "course-off") {
		t.Fatalf("course without enabled offering must be rejected")
	}
	current, err := session.FindCurrent(ctx, false)
	if err != nil {
		t.Fatalf("find current: %v", err)
	}
	if !current.HasItem("inst-b") {
		t.Fatalf("expected inst-b in cart")
	}
	if !session.RemoveCourse(ctx, "course-b") || current.HasItem("inst-b") {
		t.Fatalf("expected course to be removed")
	}

	if !current.AddItem(ctx, "inst-c") || !current.Cancel(ctx) {
		t.Fatalf("prepare canceled cart failed")
	}
	f.now = f.now.Add(1)
	if !session.AddCourse(ctx, "course-a") {
		t.Fatalf("expected a new current cart after cancel")
	}

	mine, err := session.ListMine(ctx, 0)
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 carts, got %d", len(mine))
	}
	if !mine[0].IsCurrent() || !mine[1].IsCanceled() {
		t.Fatalf("expected newest first, got %s then %s", mine[0].Status(), mine[1].Status())
	}
}

func TestSession_MemoizesInstances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	session := f.svc.NewSession("user-1")

	if _, ok, err := session.availableInstance(ctx, "inst-c"); err != nil || !ok {
		t.Fatalf("expected inst-c to be available")
	}
	f.catalog.Put(offering("inst-c", "course-c", 999, domain.DiscountNone, ""))

	cached, _, _ := session.availableInstance(ctx, "inst-c")
	if !cached.Cost.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected request-scoped cache to keep 300, got %s", cached.Cost)
	}
	fresh, _, _ := f.svc.NewSession("user-1").availableInstance(ctx, "inst-c")
	if !fresh.Cost.Equal(decimal.NewFromInt(999)) {
		t.Fatalf("expected a new session to see 999, got %s", fresh.Cost)
	}
}
