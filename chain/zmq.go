// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/dashevo/dashcw/dashwire"
	"github.com/lightninglabs/gozmq"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// rawTxZMQCommand delivers every transaction entering the mempool or
	// a block.
	rawTxZMQCommand = "rawtx"

	// rawTxLockSigZMQCommand delivers an instant locked transaction
	// followed by its instant lock.
	rawTxLockSigZMQCommand = "rawtxlocksig"

	// hashChainLockZMQCommand delivers the hash of each newly chain
	// locked block.
	hashChainLockZMQCommand = "hashchainlock"

	// maxTopicLen is the size of the buffer receiving the topic frame.
	maxTopicLen = 32

	// maxRawTxSize is the maximum size in bytes of a transaction message,
	// including an appended instant lock.
	maxRawTxSize = 2e6

	// seqNumLen is the length of the sequence number frame.
	seqNumLen = 4

	// defaultIdleLogInterval is how often an idle connection is logged.
	defaultIdleLogInterval = 5 * time.Minute

	// defaultReadDeadline bounds each receive so that Stop is noticed.
	defaultReadDeadline = 5 * time.Second
)

type (
	// TxNotification carries a transaction seen by the node.
	TxNotification struct {
		Tx *dashwire.MsgTx
	}

	// InstantLockNotification carries an instant locked transaction and
	// its lock.
	InstantLockNotification struct {
		Tx   *dashwire.MsgTx
		Lock *dashwire.InstantLock
	}

	// ChainLockNotification carries the hash of a newly chain locked
	// block.
	ChainLockNotification struct {
		Hash chainhash.Hash
	}
)

// ZMQConfig holds the ZMQ endpoints of a Dash Core node.  Topics sharing
// an endpoint share one connection.
type ZMQConfig struct {
	// TxHost publishes rawtx.
	TxHost string

	// InstantLockHost publishes rawtxlocksig.
	InstantLockHost string

	// ChainLockHost publishes hashchainlock.
	ChainLockHost string

	// ReadDeadline is the read deadline applied to each receive.
	ReadDeadline time.Duration

	// IdleLogInterval limits how often read timeouts are logged.
	IdleLogInterval time.Duration

	// Clock times the idle log.
	Clock clock.Clock
}

// ZMQSubscriber delivers transaction, instant lock and chain lock
// notifications read from a node's ZMQ publishers.
type ZMQSubscriber struct {
	cfg   ZMQConfig
	conns []*gozmq.Conn

	ntfns chan interface{}

	// lastLoggedAt is when a read timeout was last logged.
	lastLoggedMtx sync.Mutex
	lastLoggedAt  time.Time

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewZMQSubscriber returns a subscriber for cfg.  No connection is made
// until Start.
func NewZMQSubscriber(cfg ZMQConfig) *ZMQSubscriber {
	if cfg.ReadDeadline == 0 {
		cfg.ReadDeadline = defaultReadDeadline
	}
	if cfg.IdleLogInterval == 0 {
		cfg.IdleLogInterval = defaultIdleLogInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &ZMQSubscriber{
		cfg:   cfg,
		ntfns: make(chan interface{}),
		quit:  make(chan struct{}),
	}
}

// topicsByHost groups the configured topics by endpoint, skipping unset
// endpoints.
func (s *ZMQSubscriber) topicsByHost() map[string][]string {
	hosts := make(map[string][]string)
	for _, sub := range []struct {
		host, topic string
	}{
		{s.cfg.TxHost, rawTxZMQCommand},
		{s.cfg.InstantLockHost, rawTxLockSigZMQCommand},
		{s.cfg.ChainLockHost, hashChainLockZMQCommand},
	} {
		if sub.host == "" {
			continue
		}
		hosts[sub.host] = append(hosts[sub.host], sub.topic)
	}
	return hosts
}

// Start connects to every endpoint and starts reading.
func (s *ZMQSubscriber) Start() error {
	hosts := s.topicsByHost()
	if len(hosts) == 0 {
		return errors.New("no zmq endpoints configured")
	}

	for host, topics := range hosts {
		conn, err := gozmq.Subscribe(host, topics, s.cfg.ReadDeadline)
		if err != nil {
			s.closeConns()
			return fmt.Errorf("unable to subscribe to %v on %v: %w",
				topics, host, err)
		}
		s.conns = append(s.conns, conn)
	}

	for _, conn := range s.conns {
		s.wg.Add(1)
		go s.eventHandler(conn)
	}
	return nil
}

func (s *ZMQSubscriber) closeConns() error {
	var returnErr error
	for _, conn := range s.conns {
		if err := conn.Close(); err != nil {
			returnErr = err
		}
	}
	return returnErr
}

// Stop closes the connections and waits for the readers to exit.
func (s *ZMQSubscriber) Stop() error {
	err := s.closeConns()
	close(s.quit)
	s.wg.Wait()
	return err
}

// Notifications returns the channel delivering *TxNotification,
// *InstantLockNotification and *ChainLockNotification values.
func (s *ZMQSubscriber) Notifications() <-chan interface{} {
	return s.ntfns
}

// shouldLogIdle reports whether a read timeout may be logged now, and if
// so records the time.
func (s *ZMQSubscriber) shouldLogIdle() bool {
	now := s.cfg.Clock.Now()

	s.lastLoggedMtx.Lock()
	defer s.lastLoggedMtx.Unlock()

	if !s.lastLoggedAt.IsZero() &&
		now.Sub(s.lastLoggedAt) < s.cfg.IdleLogInterval {

		return false
	}
	s.lastLoggedAt = now
	return true
}

// decodeMessage decodes the body of a message of the given topic.
func decodeMessage(topic string, body []byte) (interface{}, error) {
	switch topic {
	case rawTxZMQCommand:
		tx, err := dashwire.DecodeTx(body)
		if err != nil {
			return nil, err
		}
		return &TxNotification{Tx: tx}, nil

	case rawTxLockSigZMQCommand:
		tx, lock, err := dashwire.DecodeTxLockSig(body)
		if err != nil {
			return nil, err
		}
		return &InstantLockNotification{Tx: tx, Lock: lock}, nil

	case hashChainLockZMQCommand:
		// Hashes are published in display order.
		if len(body) != chainhash.HashSize {
			return nil, fmt.Errorf("invalid chain lock hash "+
				"length %d", len(body))
		}
		var n ChainLockNotification
		for i, b := range body {
			n.Hash[chainhash.HashSize-1-i] = b
		}
		return &n, nil

	default:
		return nil, fmt.Errorf("unexpected topic %q", topic)
	}
}

// eventHandler reads messages from conn and forwards them as
// notifications.
//
// NOTE: This must be run as a goroutine.
func (s *ZMQSubscriber) eventHandler(conn *gozmq.Conn) {
	defer s.wg.Done()

	log.Infof("Started listening for ZMQ notifications on %v",
		conn.RemoteAddr())

	// Messages include three parts: the topic, the data and the sequence
	// number.  The buffers are reused between reads.
	var (
		topic  = make([]byte, maxTopicLen)
		data   = make([]byte, maxRawTxSize)
		seqNum [seqNumLen]byte
	)

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		bufs, err := conn.Receive([][]byte{topic, data, seqNum[:]})
		if err != nil {
			// EOF is only returned once the connection was closed.
			if err == io.EOF {
				return
			}

			netErr, ok := err.(net.Error)
			if ok && netErr.Timeout() {
				if s.shouldLogIdle() {
					log.Debugf("No ZMQ messages from %v "+
						"within %v", conn.RemoteAddr(),
						s.cfg.ReadDeadline)
				}
				continue
			}

			log.Errorf("Unable to receive ZMQ message: %v", err)
			continue
		}
		if len(bufs) < 2 {
			continue
		}

		eventType := string(bufs[0])
		ntfn, err := decodeMessage(eventType, bytes.Clone(bufs[1]))
		if err != nil {
			// A partially read message has an unreadable topic
			// when the node shuts down.
			if eventType == "" || !isASCII(eventType) {
				continue
			}
			log.Warnf("Unable to decode %v message: %v", eventType,
				err)
			continue
		}

		select {
		case s.ntfns <- ntfn:
		case <-s.quit:
			return
		}
	}
}

// isASCII is a helper method that checks whether all bytes in `data` would be
// printable ASCII characters if interpreted as a string.
func isASCII(s string) bool {
	for _, c := range s {
		if c < 32 || c > 126 {
			return false
		}
	}
	return true
}
