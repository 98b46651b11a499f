// Package amqp implements the message broker interface for AMQP compliant brokers (ie
// RabbitMQ).
package amqp

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/streadway/amqp"

	"github.com/chainward/gateway/lib/msg"
	"github.com/chainward/gateway/lib/store"
)

// exchange carries all gateway events, routed by topic.
const exchange = "gwe"

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.MsgBroker, error) {
	r := Amqp{}

	var err error
	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, fmt.Errorf("cannot connect to message broker %s: %w", uri, err)
	}

	log.Printf("Connected to %s", uri)

	return &r, nil
}

// Setup obtains an amqp channel and declares the gateway events exchange where the scan
// service publishes deposits and trades and the wallet service publishes withdrawals.
func (r *Amqp) Setup() error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker.
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel: %v", err)
		}

		r.ch = nil
	}

	return r.conn.Close()
}

func (r *Amqp) publish(key string, header amqp.Table, doc interface{}) error {
	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return err
		}
	}

	return r.ch.Publish(exchange, key, false, false, amqp.Publishing{
		Headers:     header,
		Body:        jsonDoc,
		ContentType: "application/json",
	})
}

// SendDeposit publishes a deposit event for the given blockchain.
func (r *Amqp) SendDeposit(chainKey string, d store.Deposit) error {
	err := r.publish(chainKey+"."+msg.DepositTopic+"."+d.TxID,
		amqp.Table{"x-deposit": d.CurrencyID + "." + d.TxID},
		msg.NewDepositEvent(d))
	if err != nil {
		log.Printf("[%s] Error sending deposit event to message broker: %v", chainKey, err)
	}

	return err
}

// SendWithdraw publishes a withdrawal event for the given blockchain.
func (r *Amqp) SendWithdraw(chainKey string, w store.Withdraw) error {
	err := r.publish(chainKey+"."+msg.WithdrawTopic+"."+w.TID,
		amqp.Table{"x-withdraw": w.TID},
		msg.NewWithdrawEvent(w))
	if err != nil {
		log.Printf("[%s] Error sending withdraw event to message broker: %v", chainKey, err)
	}

	return err
}

// SendTrade publishes a completed trade.
func (r *Amqp) SendTrade(t msg.Trade) error {
	err := r.publish(t.MarketID+"."+msg.TradeTopic+"."+t.ID,
		amqp.Table{"x-trade": t.ID},
		msg.NewTradeCompleted(t))
	if err != nil {
		log.Printf("[%s] Error sending trade event to message broker: %v", t.MarketID, err)
	}

	return err
}

// GetDeposits consumes deposit events for a blockchain, pushing them to the returned channel.
// The Mutex pointer ensures the consumed message has been fully dealt with by the management
// function, so the message consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetDeposits(chainKey string, mut *sync.Mutex) (<-chan store.Deposit, <-chan error, error) {
	var err error
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, nil, err
		}
	}

	queue := exchange + chainKey
	if _, err = r.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}

	if err = r.ch.QueueBind(queue, chainKey+"."+msg.DepositTopic+".*", exchange, false, nil); err != nil {
		return nil, nil, err
	}

	msgs, err := r.ch.Consume(queue, "wallet-"+chainKey, false, false, false, false, nil)
	if err != nil {
		return nil, nil, err
	}

	deposits := make(chan store.Deposit)
	errors := make(chan error)

	go func() {
		for m := range msgs {
			var e msg.DepositEvent
			if err := json.Unmarshal(m.Body, &e); err != nil {
				errors <- err

				continue
			}

			d, err := e.Deposit()
			if err != nil {
				errors <- err

				continue
			}

			deposits <- d

			mut.Lock() // wait for the wallet service to finish processing the deposit

			if err := m.Ack(false); err != nil {
				errors <- err
			}
		}
	}()

	return deposits, errors, nil
}
