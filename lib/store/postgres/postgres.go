// Package postgres implements the store interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/chainward/gateway/lib/store"
)

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a Postgres connection to the specified database and makes sure the schema
// exists.
func New(conn string) (*Postgres, error) {
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to postgres DB in %s: %w", conn, err)
	}

	p := &Postgres{db: db}
	if err = p.migrate(); err != nil {
		return nil, err
	}

	return p, nil
}

// ClosePostgres will close a database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

func (p *Postgres) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS deposits (
			currency_id   TEXT NOT NULL,
			txid          TEXT NOT NULL,
			txout         INTEGER NOT NULL,
			address       TEXT NOT NULL,
			amount        NUMERIC(36, 18) NOT NULL,
			state         TEXT NOT NULL,
			confirmations BIGINT NOT NULL DEFAULT 0,
			received_at   TIMESTAMPTZ,
			PRIMARY KEY (currency_id, txid, txout)
		)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			currency_id TEXT NOT NULL,
			kind        TEXT NOT NULL,
			address     TEXT NOT NULL,
			active      BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (currency_id, kind, address)
		)`,
		`CREATE TABLE IF NOT EXISTS withdraws (
			tid         TEXT PRIMARY KEY,
			currency_id TEXT NOT NULL,
			rid         TEXT NOT NULL,
			amount      NUMERIC(36, 18) NOT NULL,
			txid        TEXT NOT NULL DEFAULT '',
			state       TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS watch (
			chain     TEXT PRIMARY KEY,
			block     BIGINT NOT NULL,
			bh        TEXT[] NOT NULL DEFAULT '{}',
			bhi       INTEGER NOT NULL DEFAULT 0,
			addresses TEXT[] NOT NULL DEFAULT '{}'
		)`,
	}

	for _, s := range stmts {
		if _, err := p.db.Exec(s); err != nil {
			return fmt.Errorf("cannot create schema: %w", err)
		}
	}

	return nil
}

// UpsertDeposit creates or updates a deposit by its natural key. The amount and address of a
// known deposit are never rewritten, and state and confirmations only move forward: a
// collected deposit stays collected and the confirmation count never decreases even when an
// old transaction window is re-observed.
func (p *Postgres) UpsertDeposit(d store.Deposit) (bool, error) {
	var created bool

	err := p.db.QueryRow(`
		INSERT INTO deposits (currency_id, txid, txout, address, amount, state, confirmations, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (currency_id, txid, txout)
		DO UPDATE SET
			state = CASE
				WHEN deposits.state = 'collected' THEN deposits.state
				WHEN deposits.state = 'accepted' AND EXCLUDED.state = 'submitted' THEN deposits.state
				ELSE EXCLUDED.state
			END,
			confirmations = GREATEST(deposits.confirmations, EXCLUDED.confirmations)
		RETURNING (xmax = 0)`,
		d.CurrencyID, d.TxID, d.TxOut, d.Address, d.Amount.String(), d.State,
		d.Confirmations, d.ReceivedAt).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("could not upsert deposit %s: %w", d.TxID, err)
	}

	return created, nil
}

func scanDeposit(row interface{ Scan(...interface{}) error }) (store.Deposit, error) {
	var (
		d      store.Deposit
		amount string
		rcv    sql.NullTime
	)

	err := row.Scan(&d.CurrencyID, &d.TxID, &d.TxOut, &d.Address, &amount, &d.State,
		&d.Confirmations, &rcv)
	if err != nil {
		return store.Deposit{}, err
	}

	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return store.Deposit{}, fmt.Errorf("bad amount %q for deposit %s: %w", amount, d.TxID, err)
	}

	if rcv.Valid {
		t := rcv.Time
		d.ReceivedAt = &t
	}

	return d, nil
}

const depositCols = `currency_id, txid, txout, address, amount, state, confirmations, received_at`

// GetDeposit returns one deposit by natural key.
func (p *Postgres) GetDeposit(currencyID, txID string, txOut int) (store.Deposit, error) {
	row := p.db.QueryRow(`SELECT `+depositCols+` FROM deposits
		WHERE currency_id = $1 AND txid = $2 AND txout = $3`, currencyID, txID, txOut)

	d, err := scanDeposit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Deposit{}, store.ErrNotFound
	}

	if err != nil {
		return store.Deposit{}, fmt.Errorf("could not load deposit %s: %w", txID, err)
	}

	return d, nil
}

// GetDeposits returns the deposits of a currency, optionally restricted to one state.
func (p *Postgres) GetDeposits(currencyID, state string) ([]store.Deposit, error) {
	query := `SELECT ` + depositCols + ` FROM deposits WHERE currency_id = $1`
	args := []interface{}{currencyID}

	if state != "" {
		query += ` AND state = $2`
		args = append(args, state)
	}

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not load deposits: %w", err)
	}
	defer rows.Close()

	var deposits []store.Deposit

	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("could not decode deposit: %w", err)
		}

		deposits = append(deposits, d)
	}

	return deposits, rows.Err()
}

// UpdateDepositState moves one deposit to the given state.
func (p *Postgres) UpdateDepositState(currencyID, txID string, txOut int, state string) error {
	res, err := p.db.Exec(`UPDATE deposits SET state = $4
		WHERE currency_id = $1 AND txid = $2 AND txout = $3`, currencyID, txID, txOut, state)
	if err != nil {
		return fmt.Errorf("could not update deposit %s: %w", txID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}

	return nil
}

// AddWallet saves a wallet record.
func (p *Postgres) AddWallet(w store.Wallet) error {
	_, err := p.db.Exec(`INSERT INTO wallets (currency_id, kind, address, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (currency_id, kind, address) DO UPDATE SET active = $4`,
		w.CurrencyID, w.Kind, w.Address, w.Active)
	if err != nil {
		return fmt.Errorf("could not save wallet: %w", err)
	}

	return nil
}

// GetWallets returns the wallets matching (currency, kind, active).
func (p *Postgres) GetWallets(currencyID, kind string, active bool) ([]store.Wallet, error) {
	rows, err := p.db.Query(`SELECT currency_id, kind, address, active FROM wallets
		WHERE currency_id = $1 AND kind = $2 AND active = $3`, currencyID, kind, active)
	if err != nil {
		return nil, fmt.Errorf("could not load wallets: %w", err)
	}
	defer rows.Close()

	var wallets []store.Wallet

	for rows.Next() {
		var w store.Wallet
		if err := rows.Scan(&w.CurrencyID, &w.Kind, &w.Address, &w.Active); err != nil {
			return nil, fmt.Errorf("could not decode wallet: %w", err)
		}

		wallets = append(wallets, w)
	}

	return wallets, rows.Err()
}

// CreateWithdraw records a new withdrawal request.
func (p *Postgres) CreateWithdraw(w store.Withdraw) error {
	_, err := p.db.Exec(`INSERT INTO withdraws (tid, currency_id, rid, amount, txid, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.TID, w.CurrencyID, w.RID, w.Amount.String(), w.TxID, w.State, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("could not insert withdraw %s: %w", w.TID, err)
	}

	return nil
}

// UpdateWithdraw stores the broadcast result of a withdrawal.
func (p *Postgres) UpdateWithdraw(tid, txid, state string) error {
	res, err := p.db.Exec(`UPDATE withdraws SET txid = $2, state = $3 WHERE tid = $1`,
		tid, txid, state)
	if err != nil {
		return fmt.Errorf("could not update withdraw %s: %w", tid, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}

	return nil
}

// LoadWatch loads the block walker state for the indicated blockchain.
func (p *Postgres) LoadWatch(chainKey string) (store.WatchState, error) {
	var (
		ws  store.WatchState
		bh  pq.StringArray
		adr pq.StringArray
	)

	err := p.db.QueryRow(`SELECT block, bh, bhi, addresses FROM watch WHERE chain = $1`,
		chainKey).Scan(&ws.Block, &bh, &ws.Bhi, &adr)
	if errors.Is(err, sql.ErrNoRows) {
		return ws, store.ErrDataNotFound
	}

	if err != nil {
		return ws, fmt.Errorf("could not load watch state for %s: %w", chainKey, err)
	}

	ws.Bh, ws.Addresses = bh, adr

	return ws, nil
}

// SaveWatch saves the block walker state for the indicated blockchain.
func (p *Postgres) SaveWatch(chainKey string, ws store.WatchState) error {
	_, err := p.db.Exec(`INSERT INTO watch (chain, block, bh, bhi, addresses)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chain) DO UPDATE SET block = $2, bh = $3, bhi = $4, addresses = $5`,
		chainKey, ws.Block, pq.StringArray(ws.Bh), ws.Bhi, pq.StringArray(ws.Addresses))

	return err
}
