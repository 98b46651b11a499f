// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chainward/gateway/lib/store"
)

const database = "gateway"

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// mongoDeposit mirrors store.Deposit for BSON. Amounts are kept as fixed-point strings, never
// floats.
type mongoDeposit struct {
	CurrencyID    string     `bson:"currency_id"`
	TxID          string     `bson:"txid"`
	TxOut         int        `bson:"txout"`
	Address       string     `bson:"address"`
	Amount        string     `bson:"amount"`
	State         string     `bson:"state"`
	Confirmations int64      `bson:"confirmations"`
	ReceivedAt    *time.Time `bson:"received_at,omitempty"`
}

func (d mongoDeposit) deposit() (store.Deposit, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return store.Deposit{}, fmt.Errorf("mongo: bad amount %q for deposit %s: %w", d.Amount, d.TxID, err)
	}

	return store.Deposit{
		CurrencyID:    d.CurrencyID,
		TxID:          d.TxID,
		TxOut:         d.TxOut,
		Address:       d.Address,
		Amount:        amount,
		State:         d.State,
		Confirmations: d.Confirmations,
		ReceivedAt:    d.ReceivedAt,
	}, nil
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

func depositKey(currencyID, txID string, txOut int) bson.M {
	return bson.M{"currency_id": currencyID, "txid": txID, "txout": txOut}
}

// UpsertDeposit creates or updates a deposit by its natural key. Only the mutable fields are
// touched on re-observation and they only move forward: the state never demotes and the
// confirmation count never decreases, so reprocessing an old transaction window neither
// duplicates a deposit nor reopens a collected one.
func (m *Mongo) UpsertDeposit(d store.Deposit) (bool, error) {
	col := m.c.Database(database).Collection("deposits")

	update := bson.M{
		"$max": bson.M{"confirmations": d.Confirmations},
		"$setOnInsert": bson.M{
			"currency_id": d.CurrencyID,
			"txid":        d.TxID,
			"txout":       d.TxOut,
			"address":     d.Address,
			"amount":      d.Amount.String(),
			"state":       d.State,
			"received_at": d.ReceivedAt,
		},
	}

	res, err := col.UpdateOne(context.Background(), depositKey(d.CurrencyID, d.TxID, d.TxOut),
		update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("could not upsert deposit %s: %w", d.TxID, err)
	}

	if res.UpsertedCount == 1 {
		return true, nil
	}

	if below := store.DepositStatesBelow(d.State); len(below) > 0 {
		filter := depositKey(d.CurrencyID, d.TxID, d.TxOut)
		filter["state"] = bson.M{"$in": below}

		if _, err := col.UpdateOne(context.Background(), filter,
			bson.M{"$set": bson.M{"state": d.State}}); err != nil {
			return false, fmt.Errorf("could not advance deposit %s: %w", d.TxID, err)
		}
	}

	return false, nil
}

// GetDeposit returns one deposit by natural key.
func (m *Mongo) GetDeposit(currencyID, txID string, txOut int) (store.Deposit, error) {
	col := m.c.Database(database).Collection("deposits")

	var md mongoDeposit

	err := col.FindOne(context.Background(), depositKey(currencyID, txID, txOut)).Decode(&md)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.Deposit{}, store.ErrNotFound
	}

	if err != nil {
		return store.Deposit{}, fmt.Errorf("could not load deposit %s: %w", txID, err)
	}

	return md.deposit()
}

// GetDeposits returns the deposits of a currency, optionally restricted to one state.
func (m *Mongo) GetDeposits(currencyID, state string) ([]store.Deposit, error) {
	col := m.c.Database(database).Collection("deposits")

	filter := bson.M{"currency_id": currencyID}
	if state != "" {
		filter["state"] = state
	}

	cur, err := col.Find(context.Background(), filter)
	if err != nil {
		return nil, fmt.Errorf("could not load deposits: %w", err)
	}

	var deposits []store.Deposit

	for cur.Next(context.Background()) {
		var md mongoDeposit
		if err := bson.Unmarshal(cur.Current, &md); err != nil {
			return nil, fmt.Errorf("could not decode deposit: %w", err)
		}

		d, err := md.deposit()
		if err != nil {
			return nil, err
		}

		deposits = append(deposits, d)
	}

	return deposits, nil
}

// UpdateDepositState moves one deposit to the given state.
func (m *Mongo) UpdateDepositState(currencyID, txID string, txOut int, state string) error {
	col := m.c.Database(database).Collection("deposits")

	res, err := col.UpdateOne(context.Background(), depositKey(currencyID, txID, txOut),
		bson.M{"$set": bson.M{"state": state}})
	if err != nil {
		return fmt.Errorf("could not update deposit %s: %w", txID, err)
	}

	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}

	return nil
}

// AddWallet saves a wallet record if one does not exist yet for (currency, kind, address).
func (m *Mongo) AddWallet(w store.Wallet) error {
	col := m.c.Database(database).Collection("wallets")

	filter := bson.M{"currency_id": w.CurrencyID, "kind": w.Kind, "address": w.Address}

	_, err := col.UpdateOne(context.Background(), filter,
		bson.M{"$set": bson.M{"active": w.Active}, "$setOnInsert": filter},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save wallet: %w", err)
	}

	return nil
}

// GetWallets returns the wallets matching (currency, kind, active).
func (m *Mongo) GetWallets(currencyID, kind string, active bool) ([]store.Wallet, error) {
	col := m.c.Database(database).Collection("wallets")

	cur, err := col.Find(context.Background(),
		bson.M{"currency_id": currencyID, "kind": kind, "active": active})
	if err != nil {
		return nil, fmt.Errorf("could not load wallets: %w", err)
	}

	var wallets []store.Wallet

	for cur.Next(context.Background()) {
		var w store.Wallet
		if err := bson.Unmarshal(cur.Current, &w); err != nil {
			return nil, fmt.Errorf("could not decode wallet: %w", err)
		}

		wallets = append(wallets, w)
	}

	return wallets, nil
}

// mongoWithdraw mirrors store.Withdraw for BSON.
type mongoWithdraw struct {
	TID        string    `bson:"tid"`
	CurrencyID string    `bson:"currency_id"`
	RID        string    `bson:"rid"`
	Amount     string    `bson:"amount"`
	TxID       string    `bson:"txid,omitempty"`
	State      string    `bson:"state"`
	CreatedAt  time.Time `bson:"created_at"`
}

// CreateWithdraw records a new withdrawal request.
func (m *Mongo) CreateWithdraw(w store.Withdraw) error {
	col := m.c.Database(database).Collection("withdraws")

	_, err := col.InsertOne(context.Background(), mongoWithdraw{
		TID:        w.TID,
		CurrencyID: w.CurrencyID,
		RID:        w.RID,
		Amount:     w.Amount.String(),
		TxID:       w.TxID,
		State:      w.State,
		CreatedAt:  w.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("could not insert withdraw %s: %w", w.TID, err)
	}

	return nil
}

// UpdateWithdraw stores the broadcast result of a withdrawal.
func (m *Mongo) UpdateWithdraw(tid, txid, state string) error {
	col := m.c.Database(database).Collection("withdraws")

	res, err := col.UpdateOne(context.Background(), bson.M{"tid": tid},
		bson.M{"$set": bson.M{"txid": txid, "state": state}})
	if err != nil {
		return fmt.Errorf("could not update withdraw %s: %w", tid, err)
	}

	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}

	return nil
}

// LoadWatch loads the block walker state for the indicated blockchain.
func (m *Mongo) LoadWatch(chainKey string) (ws store.WatchState, err error) {
	sr := m.c.Database(database).Collection("watch").FindOne(context.Background(), bson.M{"chain": chainKey})

	if err = sr.Decode(&ws); errors.Is(err, mgo.ErrNoDocuments) {
		err = store.ErrDataNotFound
	}

	return ws, err
}

// SaveWatch saves the block walker state for the indicated blockchain.
func (m *Mongo) SaveWatch(chainKey string, ws store.WatchState) error {
	_, err := m.c.Database(database).Collection("watch").UpdateOne(context.Background(),
		bson.M{"chain": chainKey},
		bson.M{"$set": bson.M{
			"block":     ws.Block,
			"bh":        ws.Bh,
			"bhi":       ws.Bhi,
			"addresses": ws.Addresses,
		}},
		options.Update().SetUpsert(true))

	return err
}
