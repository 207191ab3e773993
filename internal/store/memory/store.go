package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
)

// Store é a implementação em memória do store de transações, do ledger e do
// ledger de jogos. Uma transação segura o mutex até Commit ou Rollback, o
// que serializa todas as transições como o lock de linha faria.
type Store struct {
	mu        sync.Mutex
	nextID    int64
	txns      map[string]*payment.Transaction
	byExt     map[string]string
	events    map[string]struct{}
	users     map[int64]*payment.User
	entries   []payment.LedgerEntry
	barriers  map[string]struct{}
	now       func() time.Time
	FailApply error
}

// NewStore cria um store vazio
func NewStore() *Store {
	return &Store{
		txns:     make(map[string]*payment.Transaction),
		byExt:    make(map[string]string),
		events:   make(map[string]struct{}),
		users:    make(map[int64]*payment.User),
		barriers: make(map[string]struct{}),
		now:      time.Now,
	}
}

// SetClock troca o relógio usado em created_at/updated_at
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddUser cadastra um usuário com saldo inicial
func (s *Store) AddUser(id int64, username string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &payment.User{
		ID:                 id,
		Username:           username,
		Balance:            balance,
		TotalDepositAmount: decimal.Zero,
		TotalBetAmount:     decimal.Zero,
	}
}

// User devolve uma cópia do usuário
func (s *Store) User(id int64) (payment.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return payment.User{}, false
	}
	return *u, true
}

// Entries devolve os lançamentos do ledger
func (s *Store) Entries() []payment.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]payment.LedgerEntry(nil), s.entries...)
}

// Tx implementa payment.Tx guardando um log de desfazer
type Tx struct {
	store *Store
	undo  []func()
	done  bool
}

func (t *Tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.done = true
	t.undo = nil
	t.store.mu.Unlock()
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.store.mu.Unlock()
	return nil
}

func asTx(tx payment.Tx) *Tx {
	return tx.(*Tx)
}

// BeginTx inicia uma nova transação
func (s *Store) BeginTx(ctx context.Context) (payment.Tx, error) {
	s.mu.Lock()
	return &Tx{store: s}, nil
}

// Create persiste uma transação PENDING
func (s *Store) Create(ctx context.Context, d payment.Draft) (*payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txns[d.RequestNumber]; exists {
		return nil, payment.ErrDuplicateRequestNumber
	}

	s.nextID++
	now := s.now()
	txn := &payment.Transaction{
		ID:            s.nextID,
		UserID:        d.UserID,
		RequestNumber: d.RequestNumber,
		Gateway:       d.Gateway,
		Kind:          d.Kind,
		Method:        d.Method,
		Amount:        d.Amount,
		Status:        payment.StatusPending,
		Metadata:      copyMap(d.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.txns[d.RequestNumber] = txn
	return clone(txn), nil
}

func (s *Store) FindByRequestNumber(ctx context.Context, requestNumber string) (*payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[requestNumber]
	if !ok {
		return nil, payment.ErrTransactionNotFound
	}
	return clone(txn), nil
}

func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rn, ok := s.byExt[externalID]
	if !ok {
		return nil, payment.ErrTransactionNotFound
	}
	return clone(s.txns[rn]), nil
}

func (s *Store) ListByUser(ctx context.Context, userID int64, limit int) ([]payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Transaction
	for _, txn := range s.txns {
		if txn.UserID == userID {
			out = append(out, *clone(txn))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Transaction
	for _, txn := range s.txns {
		if txn.Status == payment.StatusPending && txn.CreatedAt.Before(olderThan) {
			out = append(out, *clone(txn))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MergeMetadata mescla um patch nos metadados sem alterar o status
func (s *Store) MergeMetadata(ctx context.Context, requestNumber string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[requestNumber]
	if !ok {
		return payment.ErrTransactionNotFound
	}
	if txn.Metadata == nil {
		txn.Metadata = map[string]any{}
	}
	for k, v := range patch {
		txn.Metadata[k] = v
	}
	txn.UpdatedAt = s.now()
	return nil
}

// GetForUpdate lê a transação dentro da transação (o mutex já está com ela)
func (s *Store) GetForUpdate(ctx context.Context, tx payment.Tx, requestNumber string) (*payment.Transaction, error) {
	_ = asTx(tx)
	txn, ok := s.txns[requestNumber]
	if !ok {
		return nil, payment.ErrTransactionNotFound
	}
	return clone(txn), nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, tx payment.Tx, requestNumber string, status payment.Status) (bool, error) {
	t := asTx(tx)
	key := requestNumber + "|" + string(status)
	if _, exists := s.events[key]; exists {
		return false, nil
	}
	s.events[key] = struct{}{}
	t.undo = append(t.undo, func() { delete(s.events, key) })
	return true, nil
}

func (s *Store) UpdateStatus(ctx context.Context, tx payment.Tx, requestNumber string, upd payment.StatusUpdate) (*payment.Transaction, error) {
	t := asTx(tx)
	txn, ok := s.txns[requestNumber]
	if !ok {
		return nil, payment.ErrTransactionNotFound
	}

	if txn.ExternalID == "" && upd.ExternalID != "" {
		if owner, taken := s.byExt[upd.ExternalID]; taken && owner != requestNumber {
			return nil, payment.ErrDuplicateExternalID
		}
	}

	previous := clone(txn)
	previousExt := txn.ExternalID
	t.undo = append(t.undo, func() {
		s.txns[requestNumber] = previous
		if previousExt == "" && upd.ExternalID != "" {
			delete(s.byExt, upd.ExternalID)
		}
	})

	txn.Status = upd.Status
	if txn.ExternalID == "" && upd.ExternalID != "" {
		txn.ExternalID = upd.ExternalID
		s.byExt[upd.ExternalID] = requestNumber
	}
	if txn.QRCode == "" {
		txn.QRCode = upd.Artifacts.QRCode
	}
	if txn.Barcode == "" {
		txn.Barcode = upd.Artifacts.Barcode
	}
	if txn.DigitableLine == "" {
		txn.DigitableLine = upd.Artifacts.DigitableLine
	}
	if len(upd.Metadata) > 0 {
		merged := copyMap(txn.Metadata)
		for k, v := range upd.Metadata {
			merged[k] = v
		}
		txn.Metadata = merged
	}
	txn.UpdatedAt = s.now()

	return clone(txn), nil
}

// ApplyDelta soma o delta ao saldo dentro da transação
func (s *Store) ApplyDelta(ctx context.Context, tx payment.Tx, entry payment.LedgerEntry) error {
	t := asTx(tx)
	if s.FailApply != nil {
		return s.FailApply
	}
	if err := s.applyLocked(entry, false); err != nil {
		return err
	}
	t.undo = append(t.undo, s.revertLocked(entry))
	return nil
}

// FindUser resolve o usuário pelo username e, em seguida, pelo id numérico
func (s *Store) FindUser(ctx context.Context, userCode string) (*payment.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == userCode {
			cp := *u
			return &cp, nil
		}
	}
	if id, err := strconv.ParseInt(userCode, 10, 64); err == nil {
		if u, ok := s.users[id]; ok {
			cp := *u
			return &cp, nil
		}
	}
	return nil, payment.ErrUserNotFound
}

func (s *Store) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, payment.ErrUserNotFound
	}
	return u.Balance, nil
}

// ApplyOnce aplica um movimento de jogo no máximo uma vez por (EventKey, Branch).
// Sem EventKey o movimento é aplicado sempre.
func (s *Store) ApplyOnce(ctx context.Context, ge payment.GameplayEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ge.EventKey == "" {
		if err := s.applyLocked(ge.Entry, ge.NoOverdraft); err != nil {
			return false, err
		}
		return true, nil
	}

	key := ge.EventKey + "|" + ge.Branch
	if _, exists := s.barriers[key]; exists {
		return false, nil
	}
	if err := s.applyLocked(ge.Entry, ge.NoOverdraft); err != nil {
		return false, err
	}
	s.barriers[key] = struct{}{}
	return true, nil
}

func (s *Store) applyLocked(entry payment.LedgerEntry, noOverdraft bool) error {
	u, ok := s.users[entry.UserID]
	if !ok {
		return payment.ErrUserNotFound
	}
	next := u.Balance.Add(entry.Delta)
	if noOverdraft && next.IsNegative() {
		return payment.ErrInsufficientUserFunds
	}
	u.Balance = next
	switch entry.Reason {
	case payment.ReasonDeposit:
		u.TotalDepositAmount = u.TotalDepositAmount.Add(entry.Delta)
	case payment.ReasonBet:
		u.TotalBetAmount = u.TotalBetAmount.Add(entry.Delta.Neg())
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *Store) revertLocked(entry payment.LedgerEntry) func() {
	return func() {
		u := s.users[entry.UserID]
		u.Balance = u.Balance.Sub(entry.Delta)
		if entry.Reason == payment.ReasonDeposit {
			u.TotalDepositAmount = u.TotalDepositAmount.Sub(entry.Delta)
		}
		s.entries = s.entries[:len(s.entries)-1]
	}
}

func clone(txn *payment.Transaction) *payment.Transaction {
	cp := *txn
	cp.Metadata = copyMap(txn.Metadata)
	return &cp
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
