package sheets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sda-logistics/fleetsheet/internal/shared"
	"github.com/sda-logistics/fleetsheet/internal/shipments"
)

// ============================================================================
// MOCK STORE
// ============================================================================

// mockStore backs the repository, the shipment gateway and the assignment
// rows with one in-memory state, so lifecycle tests observe the same
// cross-entity effects the database would produce.
type mockStore struct {
	mu          sync.Mutex
	sheets      map[int64]*Sheet
	lists       map[int64][]int64
	movements   map[int64][]Movement
	assignments []*mockAssignment
	sequence    int64
	parcels     map[int64]*shipments.Shipment
	nextSheetID int64
	nextParcel  int64

	legacyNumbers []string

	// Error injection
	txError          error
	findExpiredErr   error
	markInTransitErr map[int64]error
}

type mockAssignment struct {
	sheetID    int64
	shipmentID int64
	released   bool
}

func newMockStore() *mockStore {
	return &mockStore{
		sheets:           make(map[int64]*Sheet),
		lists:            make(map[int64][]int64),
		movements:        make(map[int64][]Movement),
		parcels:          make(map[int64]*shipments.Shipment),
		nextSheetID:      1,
		nextParcel:       1,
		markInTransitErr: make(map[int64]error),
	}
}

func (m *mockStore) addParcel(status shipments.Status) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextParcel
	m.nextParcel++
	m.parcels[id] = &shipments.Shipment{
		ID:           id,
		TrackingCode: fmt.Sprintf("SDA-%012d", id),
		Status:       status,
	}
	return id
}

func (m *mockStore) addSheet(sheet Sheet, shipmentIDs []int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	sheet.ID = m.nextSheetID
	m.nextSheetID++
	m.sheets[sheet.ID] = &sheet
	m.lists[sheet.ID] = shipmentIDs
	return sheet.ID
}

func (m *mockStore) sheetCopy(id int64) (*Sheet, error) {
	sheet, ok := m.sheets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sheet
	cp.ShipmentIDs = append([]int64{}, m.lists[id]...)
	cp.Movements = append([]Movement{}, m.movements[id]...)
	return &cp, nil
}

// --- Repository ---

func (m *mockStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txError != nil {
		return m.txError
	}
	// Holding the lock for the whole callback mirrors the serialization the
	// sequence row lock provides in Postgres.
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, &mockTx{store: m})
}

func (m *mockStore) GetByID(ctx context.Context, id int64) (*Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sheetCopy(id)
}

func (m *mockStore) List(ctx context.Context, req ListRequest) ([]Sheet, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sheet
	for id, sheet := range m.sheets {
		if req.Status != nil && sheet.Status != *req.Status {
			continue
		}
		cp, _ := m.sheetCopy(id)
		out = append(out, *cp)
	}
	return out, len(out), nil
}

func (m *mockStore) FindActiveForDriverOnDate(ctx context.Context, driverID int64, date time.Time) (*Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sheet := range m.sheets {
		if sheet.DriverID == driverID && sheet.Status == StatusActive && sheet.OperatingDate.Equal(date) {
			return m.sheetCopy(id)
		}
	}
	return nil, ErrNotFound
}

func (m *mockStore) FindExpired(ctx context.Context, before time.Time) ([]Sheet, error) {
	if m.findExpiredErr != nil {
		return nil, m.findExpiredErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sheet
	for id, sheet := range m.sheets {
		if sheet.Status == StatusActive && sheet.OperatingDate.Before(before) {
			cp, _ := m.sheetCopy(id)
			out = append(out, *cp)
		}
	}
	return out, nil
}

func (m *mockStore) AssignedNumbers(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	numbers := append([]string{}, m.legacyNumbers...)
	for _, sheet := range m.sheets {
		if sheet.Number != nil {
			numbers = append(numbers, *sheet.Number)
		}
	}
	return numbers, nil
}

func (m *mockStore) ActiveHolderOf(ctx context.Context, shipmentID int64) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.shipmentID == shipmentID && !a.released {
			holder := a.sheetID
			return &holder, nil
		}
	}
	return nil, nil
}

// --- TxRepository ---

// mockTx runs under the store lock taken by WithTx.
type mockTx struct {
	store *mockStore
}

func (t *mockTx) Insert(ctx context.Context, sheet Sheet) (int64, error) {
	m := t.store
	sheet.ID = m.nextSheetID
	m.nextSheetID++
	m.sheets[sheet.ID] = &sheet
	return sheet.ID, nil
}

func (t *mockTx) GetForUpdate(ctx context.Context, id int64) (*Sheet, error) {
	return t.store.sheetCopy(id)
}

func (t *mockTx) Update(ctx context.Context, id int64, updates map[string]interface{}) error {
	sheet, ok := t.store.sheets[id]
	if !ok {
		return ErrNotFound
	}
	for col, val := range updates {
		switch col {
		case "sheet_number":
			number := val.(string)
			sheet.Number = &number
		case "status":
			sheet.Status = val.(Status)
		case "confirmed_at":
			at := val.(time.Time)
			sheet.ConfirmedAt = &at
		case "closed_at":
			at := val.(time.Time)
			sheet.ClosedAt = &at
		case "auto_closed":
			sheet.AutoClosed = val.(bool)
		case "driver_id":
			sheet.DriverID = val.(int64)
		case "vehicle_id":
			sheet.VehicleID = val.(int64)
		case "notes":
			sheet.Notes = val.(*string)
		}
	}
	return nil
}

func (t *mockTx) ReplaceShipments(ctx context.Context, sheetID int64, shipmentIDs []int64) error {
	t.store.lists[sheetID] = append([]int64{}, shipmentIDs...)
	return nil
}

func (t *mockTx) AppendMovement(ctx context.Context, mv Movement) error {
	mv.ID = int64(len(t.store.movements[mv.SheetID]) + 1)
	mv.At = time.Now()
	t.store.movements[mv.SheetID] = append(t.store.movements[mv.SheetID], mv)
	return nil
}

func (t *mockTx) ShipmentStatuses(ctx context.Context, shipmentIDs []int64) (map[int64]shipments.Status, error) {
	out := make(map[int64]shipments.Status, len(shipmentIDs))
	for _, id := range shipmentIDs {
		if p, ok := t.store.parcels[id]; ok {
			out[id] = p.Status
		}
	}
	return out, nil
}

func (t *mockTx) NextSequenceValue(ctx context.Context) (int64, error) {
	t.store.sequence++
	return t.store.sequence, nil
}

func (t *mockTx) SeedSequence(ctx context.Context, atLeast int64) error {
	if atLeast > t.store.sequence {
		t.store.sequence = atLeast
	}
	return nil
}

func (t *mockTx) ActiveHolder(ctx context.Context, shipmentID, excludeSheetID int64) (*int64, error) {
	for _, a := range t.store.assignments {
		if a.shipmentID == shipmentID && !a.released && a.sheetID != excludeSheetID {
			holder := a.sheetID
			return &holder, nil
		}
	}
	return nil, nil
}

func (t *mockTx) InsertAssignments(ctx context.Context, sheetID int64, shipmentIDs []int64) error {
	for _, shipmentID := range shipmentIDs {
		for _, a := range t.store.assignments {
			if a.shipmentID == shipmentID && !a.released {
				return &ConflictError{ShipmentID: shipmentID}
			}
		}
		t.store.assignments = append(t.store.assignments, &mockAssignment{sheetID: sheetID, shipmentID: shipmentID})
	}
	return nil
}

func (t *mockTx) ReleaseAssignments(ctx context.Context, sheetID int64) error {
	for _, a := range t.store.assignments {
		if a.sheetID == sheetID {
			a.released = true
		}
	}
	return nil
}

func (t *mockTx) ForceReschedule(ctx context.Context, sheetID int64, location, reason string) ([]int64, error) {
	var ids []int64
	for _, p := range t.store.parcels {
		if p.SheetID != nil && *p.SheetID == sheetID && p.Status == shipments.StatusInTransit {
			p.Status = shipments.StatusRescheduled
			p.SheetID = nil
			p.Attempts++
			p.FailureReason = &reason
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

// ============================================================================
// MOCK GATEWAY AND DIRECTORY
// ============================================================================

type mockGateway struct {
	store *mockStore
}

func (g *mockGateway) GetByID(ctx context.Context, id int64) (*shipments.Shipment, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	p, ok := g.store.parcels[id]
	if !ok {
		return nil, shipments.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (g *mockGateway) MarkInTransit(ctx context.Context, id, sheetID int64, location string) (*shipments.Shipment, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	if err := g.store.markInTransitErr[id]; err != nil {
		return nil, err
	}
	p, ok := g.store.parcels[id]
	if !ok {
		return nil, shipments.ErrNotFound
	}
	if !p.Status.CanTransitionTo(shipments.StatusInTransit) {
		return nil, &shipments.TransitionError{ShipmentID: id, From: p.Status, To: shipments.StatusInTransit}
	}
	p.Status = shipments.StatusInTransit
	p.SheetID = &sheetID
	cp := *p
	return &cp, nil
}

type mockDirectory struct {
	missingRoutes   map[int64]bool
	missingDrivers  map[int64]bool
	missingVehicles map[int64]bool
}

func (d *mockDirectory) RouteLabel(ctx context.Context, routeID int64) (string, error) {
	if d.missingRoutes[routeID] {
		return "", errors.New("route not found")
	}
	return "Central Depot", nil
}

func (d *mockDirectory) DriverExists(ctx context.Context, driverID int64) error {
	if d.missingDrivers[driverID] {
		return errors.New("driver not found")
	}
	return nil
}

func (d *mockDirectory) VehicleExists(ctx context.Context, vehicleID int64) error {
	if d.missingVehicles[vehicleID] {
		return errors.New("vehicle not found")
	}
	return nil
}

// ============================================================================
// FIXTURE
// ============================================================================

type fixture struct {
	store *mockStore
	dir   *mockDirectory
	svc   *Service
}

func newFixture() *fixture {
	store := newMockStore()
	dir := &mockDirectory{
		missingRoutes:   make(map[int64]bool),
		missingDrivers:  make(map[int64]bool),
		missingVehicles: make(map[int64]bool),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, &mockGateway{store: store}, dir, NewNumberAllocator("HR-SDA"), shared.NewDayBoundary(0), logger)
	return &fixture{store: store, dir: dir, svc: svc}
}

func (f *fixture) createSheet(t *testing.T, shipmentIDs []int64) *Sheet {
	t.Helper()
	sheet, err := f.svc.CreatePreliminary(context.Background(), CreateRequest{
		RouteID:       1,
		DriverID:      1,
		VehicleID:     1,
		OperatingDate: time.Now(),
		ShipmentIDs:   shipmentIDs,
		Actor:         "operator",
	})
	require.NoError(t, err)
	return sheet
}

func (f *fixture) confirmSheet(t *testing.T, id int64) *ConfirmResult {
	t.Helper()
	result, err := f.svc.Confirm(context.Background(), id, ConfirmRequest{Actor: "operator"})
	require.NoError(t, err)
	return result
}

func lastAction(t *testing.T, sheet *Sheet) string {
	t.Helper()
	require.NotEmpty(t, sheet.Movements)
	return sheet.Movements[len(sheet.Movements)-1].Action
}

// ============================================================================
// PRELIMINARY SHEETS
// ============================================================================

func TestCreatePreliminary(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	b := f.store.addParcel(shipments.StatusRescheduled)

	sheet := f.createSheet(t, []int64{a, b})

	assert.Equal(t, StatusPending, sheet.Status)
	assert.Nil(t, sheet.Number)
	assert.Nil(t, sheet.ConfirmedAt)
	assert.Equal(t, []int64{a, b}, sheet.ShipmentIDs)
	assert.Equal(t, ActionCreated, lastAction(t, sheet))

	// Planning mutates no shipment.
	parcel, err := (&mockGateway{store: f.store}).GetByID(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, shipments.StatusPending, parcel.Status)
	assert.Nil(t, parcel.SheetID)
}

func TestCreatePreliminaryRequiresShipments(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreatePreliminary(context.Background(), CreateRequest{
		RouteID: 1, DriverID: 1, VehicleID: 1, OperatingDate: time.Now(), Actor: "operator",
	})
	assert.ErrorIs(t, err, ErrEmptyShipments)
}

func TestCreatePreliminaryUnknownDriver(t *testing.T) {
	f := newFixture()
	f.dir.missingDrivers[9] = true
	a := f.store.addParcel(shipments.StatusPending)

	_, err := f.svc.CreatePreliminary(context.Background(), CreateRequest{
		RouteID: 1, DriverID: 9, VehicleID: 1, OperatingDate: time.Now(),
		ShipmentIDs: []int64{a}, Actor: "operator",
	})
	assert.ErrorIs(t, err, ErrRefNotFound)
}

func TestCreatePreliminaryRejectsUnbookable(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusDelivered)

	_, err := f.svc.CreatePreliminary(context.Background(), CreateRequest{
		RouteID: 1, DriverID: 1, VehicleID: 1, OperatingDate: time.Now(),
		ShipmentIDs: []int64{a}, Actor: "operator",
	})
	assert.ErrorIs(t, err, ErrNotBookable)
}

func TestUpdateOnlyWhilePending(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	sheet := f.createSheet(t, []int64{a})

	notes := "leave fragile boxes on top"
	updated, err := f.svc.Update(context.Background(), sheet.ID, UpdateRequest{
		Notes: &notes, Actor: "operator",
	})
	require.NoError(t, err)
	require.NotNil(t, updated.Notes)
	assert.Equal(t, notes, *updated.Notes)
	assert.Equal(t, ActionUpdated, lastAction(t, updated))

	f.confirmSheet(t, sheet.ID)

	_, err = f.svc.Update(context.Background(), sheet.ID, UpdateRequest{
		Notes: &notes, Actor: "operator",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)

	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StatusActive, stateErr.Status)
	assert.Equal(t, "edit", stateErr.Op)
}

// ============================================================================
// CONFIRMATION
// ============================================================================

func TestConfirmAssignsSequentialNumbers(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	b := f.store.addParcel(shipments.StatusPending)

	first := f.createSheet(t, []int64{a})
	second := f.createSheet(t, []int64{b})

	r1 := f.confirmSheet(t, first.ID)
	r2 := f.confirmSheet(t, second.ID)

	require.NotNil(t, r1.Sheet.Number)
	require.NotNil(t, r2.Sheet.Number)
	assert.Equal(t, "HR-SDA-00001", *r1.Sheet.Number)
	assert.Equal(t, "HR-SDA-00002", *r2.Sheet.Number)

	assert.Equal(t, StatusActive, r1.Sheet.Status)
	assert.NotNil(t, r1.Sheet.ConfirmedAt)
	assert.Equal(t, ActionConfirmed, lastAction(t, r1.Sheet))
	assert.Equal(t, []int64{a}, r1.InTransit)
	assert.Empty(t, r1.Failed)

	parcel, err := (&mockGateway{store: f.store}).GetByID(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, shipments.StatusInTransit, parcel.Status)
	require.NotNil(t, parcel.SheetID)
	assert.Equal(t, first.ID, *parcel.SheetID)
}

func TestConfirmConflictNamesShipmentAndHolder(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	b := f.store.addParcel(shipments.StatusPending)

	first := f.createSheet(t, []int64{a, b})
	f.confirmSheet(t, first.ID)

	secondID := f.store.addSheet(Sheet{
		RouteID: 1, DriverID: 2, VehicleID: 2,
		OperatingDate: time.Now(), Status: StatusPending,
	}, []int64{b})

	_, err := f.svc.Confirm(context.Background(), secondID, ConfirmRequest{Actor: "operator"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, b, conflict.ShipmentID)
	assert.Equal(t, first.ID, conflict.HolderSheetID)

	// The losing sheet stays pending and unnumbered.
	second, err := f.svc.GetByID(context.Background(), secondID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, second.Status)
	assert.Nil(t, second.Number)
}

func TestConfirmRequiresShipments(t *testing.T) {
	f := newFixture()
	id := f.store.addSheet(Sheet{
		RouteID: 1, DriverID: 1, VehicleID: 1,
		OperatingDate: time.Now(), Status: StatusPending,
	}, nil)

	_, err := f.svc.Confirm(context.Background(), id, ConfirmRequest{Actor: "operator"})
	assert.ErrorIs(t, err, ErrEmptyShipments)
}

func TestConfirmTwiceInvalidState(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	sheet := f.createSheet(t, []int64{a})
	f.confirmSheet(t, sheet.ID)

	_, err := f.svc.Confirm(context.Background(), sheet.ID, ConfirmRequest{Actor: "operator"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)

	// The failed attempt consumes no number.
	b := f.store.addParcel(shipments.StatusPending)
	next := f.createSheet(t, []int64{b})
	result := f.confirmSheet(t, next.ID)
	assert.Equal(t, "HR-SDA-00002", *result.Sheet.Number)
}

func TestConfirmReportsPartialShipmentFailures(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	b := f.store.addParcel(shipments.StatusPending)
	f.store.markInTransitErr[b] = errors.New("storage unavailable")

	sheet := f.createSheet(t, []int64{a, b})
	result := f.confirmSheet(t, sheet.ID)

	// The sheet is active and numbered regardless of per-shipment failures.
	assert.Equal(t, StatusActive, result.Sheet.Status)
	require.NotNil(t, result.Sheet.Number)

	assert.Equal(t, []int64{a}, result.InTransit)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, b, result.Failed[0].ShipmentID)
	assert.Contains(t, result.Failed[0].Error, "storage unavailable")
}

func TestConfirmWithFinalList(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	b := f.store.addParcel(shipments.StatusPending)

	sheet := f.createSheet(t, []int64{a, b})
	result, err := f.svc.Confirm(context.Background(), sheet.ID, ConfirmRequest{
		ShipmentIDs: []int64{a}, Actor: "operator",
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{a}, result.Sheet.ShipmentIDs)
	assert.Equal(t, []int64{a}, result.InTransit)

	// The dropped shipment stays bookable.
	parcel, err := (&mockGateway{store: f.store}).GetByID(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, shipments.StatusPending, parcel.Status)
}

func TestConfirmRejectsUnbookableAddition(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	d := f.store.addParcel(shipments.StatusDelivered)

	sheet := f.createSheet(t, []int64{a})
	_, err := f.svc.Confirm(context.Background(), sheet.ID, ConfirmRequest{
		ShipmentIDs: []int64{a, d}, Actor: "operator",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotBookable)

	// The rejected attempt mutated nothing: the sheet stays pending and
	// unnumbered, and no sequence value was consumed.
	got, err := f.svc.GetByID(context.Background(), sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.Number)

	result := f.confirmSheet(t, sheet.ID)
	assert.Equal(t, "HR-SDA-00001", *result.Sheet.Number)
}

func TestConfirmRejectsUnknownAddition(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)

	sheet := f.createSheet(t, []int64{a})
	_, err := f.svc.Confirm(context.Background(), sheet.ID, ConfirmRequest{
		ShipmentIDs: []int64{a, 999}, Actor: "operator",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shipments.ErrNotFound)
}

func TestConfirmConcurrentOverlappingSingleWinner(t *testing.T) {
	f := newFixture()
	contested := f.store.addParcel(shipments.StatusPending)

	const rivals = 10
	sheetIDs := make([]int64, rivals)
	for i := range sheetIDs {
		sheetIDs[i] = f.store.addSheet(Sheet{
			RouteID: 1, DriverID: int64(i + 1), VehicleID: 1,
			OperatingDate: time.Now(), Status: StatusPending,
		}, []int64{contested})
	}

	var (
		mu      sync.Mutex
		winners []int64
		losses  []error
		wg      sync.WaitGroup
	)
	for _, id := range sheetIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Confirm(context.Background(), id, ConfirmRequest{Actor: "operator"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				losses = append(losses, err)
				return
			}
			winners = append(winners, id)
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Len(t, losses, rivals-1)
	for _, err := range losses {
		assert.ErrorIs(t, err, ErrConflict)
	}

	// The shipment departed with the winning sheet and only that one.
	parcel, err := (&mockGateway{store: f.store}).GetByID(context.Background(), contested)
	require.NoError(t, err)
	assert.Equal(t, shipments.StatusInTransit, parcel.Status)
	require.NotNil(t, parcel.SheetID)
	assert.Equal(t, winners[0], *parcel.SheetID)

	// The losing sheets stay pending and unnumbered.
	for _, id := range sheetIDs {
		if id == winners[0] {
			continue
		}
		sheet, err := f.svc.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, sheet.Status)
		assert.Nil(t, sheet.Number)
	}
}

func TestConfirmNumbersUniqueUnderConcurrency(t *testing.T) {
	f := newFixture()
	const n = 20

	sheetIDs := make([]int64, n)
	for i := range sheetIDs {
		p := f.store.addParcel(shipments.StatusPending)
		sheetIDs[i] = f.store.addSheet(Sheet{
			RouteID: 1, DriverID: int64(i + 1), VehicleID: 1,
			OperatingDate: time.Now(), Status: StatusPending,
		}, []int64{p})
	}

	var wg sync.WaitGroup
	for _, id := range sheetIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Confirm(context.Background(), id, ConfirmRequest{Actor: "operator"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	alloc := NewNumberAllocator("HR-SDA")
	seen := make(map[int64]bool)
	for _, id := range sheetIDs {
		sheet, err := f.svc.GetByID(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, sheet.Number)
		value, err := alloc.Parse(*sheet.Number)
		require.NoError(t, err)
		assert.False(t, seen[value], "number %s assigned twice", *sheet.Number)
		seen[value] = true
	}
	// Gap-free: exactly {1..n}.
	for v := int64(1); v <= n; v++ {
		assert.True(t, seen[v], "missing sequence value %d", v)
	}
}

// ============================================================================
// CLOSURE
// ============================================================================

func TestCloseReschedulesInTransit(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	b := f.store.addParcel(shipments.StatusPending)
	sheet := f.createSheet(t, []int64{a, b})
	f.confirmSheet(t, sheet.ID)

	closed, err := f.svc.Close(context.Background(), sheet.ID, CloseRequest{Actor: "operator"}, false)
	require.NoError(t, err)

	assert.Equal(t, StatusClosed, closed.Status)
	assert.False(t, closed.AutoClosed)
	assert.NotNil(t, closed.ClosedAt)
	assert.Equal(t, ActionClosedByOp, lastAction(t, closed))

	for _, id := range []int64{a, b} {
		parcel, err := (&mockGateway{store: f.store}).GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, shipments.StatusRescheduled, parcel.Status)
		assert.Nil(t, parcel.SheetID)
		assert.Equal(t, 1, parcel.Attempts)
	}

	// Assignments are released: the shipments are free for the next sheet.
	holder, err := f.store.ActiveHolderOf(context.Background(), a)
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestClosePreservesRecordedOutcomes(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	b := f.store.addParcel(shipments.StatusPending)
	sheet := f.createSheet(t, []int64{a, b})
	f.confirmSheet(t, sheet.ID)

	// One delivery outcome was recorded before closure.
	f.store.mu.Lock()
	f.store.parcels[a].Status = shipments.StatusDelivered
	f.store.mu.Unlock()

	_, err := f.svc.Close(context.Background(), sheet.ID, CloseRequest{Actor: "operator"}, true)
	require.NoError(t, err)

	parcelA, err := (&mockGateway{store: f.store}).GetByID(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, shipments.StatusDelivered, parcelA.Status)

	parcelB, err := (&mockGateway{store: f.store}).GetByID(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, shipments.StatusRescheduled, parcelB.Status)
}

func TestCloseIdempotent(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	sheet := f.createSheet(t, []int64{a})
	f.confirmSheet(t, sheet.ID)

	first, err := f.svc.Close(context.Background(), sheet.ID, CloseRequest{Actor: "operator"}, false)
	require.NoError(t, err)
	movementsAfterFirst := len(first.Movements)

	second, err := f.svc.Close(context.Background(), sheet.ID, CloseRequest{Actor: "operator"}, false)
	require.NoError(t, err)

	assert.Equal(t, StatusClosed, second.Status)
	assert.Len(t, second.Movements, movementsAfterFirst, "repeated closure must not append movements")

	// Attempts are not double-counted either.
	parcel, err := (&mockGateway{store: f.store}).GetByID(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 1, parcel.Attempts)
}

func TestClosePendingInvalidState(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	sheet := f.createSheet(t, []int64{a})

	_, err := f.svc.Close(context.Background(), sheet.ID, CloseRequest{Actor: "operator"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)

	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "close", stateErr.Op)
}

func TestCloseNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Close(context.Background(), 404, CloseRequest{Actor: "operator"}, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

// ============================================================================
// EXPIRY
// ============================================================================

func TestExpireDueClosesOnlyElapsedDays(t *testing.T) {
	f := newFixture()
	now := time.Now()

	a := f.store.addParcel(shipments.StatusPending)
	b := f.store.addParcel(shipments.StatusPending)

	stale, err := f.svc.CreatePreliminary(context.Background(), CreateRequest{
		RouteID: 1, DriverID: 1, VehicleID: 1,
		OperatingDate: now.AddDate(0, 0, -1),
		ShipmentIDs:   []int64{a}, Actor: "operator",
	})
	require.NoError(t, err)
	f.confirmSheet(t, stale.ID)

	current := f.createSheet(t, []int64{b})
	f.confirmSheet(t, current.ID)

	closed, err := f.svc.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	staleAfter, err := f.svc.GetByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, staleAfter.Status)
	assert.True(t, staleAfter.AutoClosed)
	assert.Equal(t, ActionClosedAuto, lastAction(t, staleAfter))

	currentAfter, err := f.svc.GetByID(context.Background(), current.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, currentAfter.Status)
}

func TestExpireDueRerunIsNoop(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)

	stale, err := f.svc.CreatePreliminary(context.Background(), CreateRequest{
		RouteID: 1, DriverID: 1, VehicleID: 1,
		OperatingDate: time.Now().AddDate(0, 0, -2),
		ShipmentIDs:   []int64{a}, Actor: "operator",
	})
	require.NoError(t, err)
	f.confirmSheet(t, stale.ID)

	closed, err := f.svc.ExpireDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	closed, err = f.svc.ExpireDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
}

// ============================================================================
// END TO END
// ============================================================================

func TestSheetLifecycleEndToEnd(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.store.addParcel(shipments.StatusPending)
	b := f.store.addParcel(shipments.StatusPending)

	// First sheet carries both shipments and gets the first number.
	first := f.createSheet(t, []int64{a, b})
	r1 := f.confirmSheet(t, first.ID)
	assert.Equal(t, "HR-SDA-00001", *r1.Sheet.Number)

	// A second sheet wanting shipment B is rejected while the first is active.
	secondID := f.store.addSheet(Sheet{
		RouteID: 1, DriverID: 2, VehicleID: 2,
		OperatingDate: time.Now(), Status: StatusPending,
	}, []int64{b})
	_, err := f.svc.Confirm(ctx, secondID, ConfirmRequest{Actor: "operator"})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, b, conflict.ShipmentID)
	assert.Equal(t, first.ID, conflict.HolderSheetID)

	// Closing the first sheet frees B again, as rescheduled.
	_, err = f.svc.Close(ctx, first.ID, CloseRequest{Actor: "operator"}, false)
	require.NoError(t, err)
	parcel, err := (&mockGateway{store: f.store}).GetByID(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, shipments.StatusRescheduled, parcel.Status)

	// Now the second sheet confirms and takes the next number.
	r2, err := f.svc.Confirm(ctx, secondID, ConfirmRequest{Actor: "operator"})
	require.NoError(t, err)
	assert.Equal(t, "HR-SDA-00002", *r2.Sheet.Number)
	assert.Equal(t, []int64{b}, r2.InTransit)

	parcel, err = (&mockGateway{store: f.store}).GetByID(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, shipments.StatusInTransit, parcel.Status)
	require.NotNil(t, parcel.SheetID)
	assert.Equal(t, secondID, *parcel.SheetID)
}

// ============================================================================
// DRIVER LOOKUP
// ============================================================================

func TestFindTodayForDriver(t *testing.T) {
	f := newFixture()
	a := f.store.addParcel(shipments.StatusPending)
	sheet := f.createSheet(t, []int64{a})
	f.confirmSheet(t, sheet.ID)

	found, err := f.svc.FindTodayForDriver(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, sheet.ID, found.ID)

	_, err = f.svc.FindTodayForDriver(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}
