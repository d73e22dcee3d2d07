// Package errors holds the sentinel errors shared by the server and its event loops.
//
// Errors with the same meaning as gnet's are gnet's own values, so callers that
// already match on github.com/panjf2000/gnet/errors keep working.
package errors

import (
	"errors"

	gerrors "github.com/panjf2000/gnet/errors"
)

var (
	// ErrServerShutdown occurs when server is closing.
	ErrServerShutdown = gerrors.ErrServerShutdown
	// ErrServerInShutdown occurs when attempting to shut the server down more than once.
	ErrServerInShutdown = gerrors.ErrServerInShutdown
	// ErrAcceptSocket occurs when acceptor does not accept the new connection properly.
	ErrAcceptSocket = gerrors.ErrAcceptSocket
	// ErrConnectionClosed occurs when the peer closed its side of a connection.
	ErrConnectionClosed = gerrors.ErrConnectionClosed
	// ErrUnsupportedProtocol occurs when trying to use protocol that is not supported.
	ErrUnsupportedProtocol = gerrors.ErrUnsupportedProtocol
	// ErrUnsupportedTCPProtocol occurs when trying to use an unsupported TCP protocol.
	ErrUnsupportedTCPProtocol = gerrors.ErrUnsupportedTCPProtocol

	// ErrQueueFull occurs when the dispatch queue is at capacity and a connection is rejected.
	ErrQueueFull = errors.New("dispatch queue is full")
	// ErrNoLiveWorkers occurs when every worker process of the pool has exited.
	ErrNoLiveWorkers = errors.New("no live worker process left")
	// ErrPoolClosed occurs when submitting to a pool that has been closed.
	ErrPoolClosed = errors.New("pool has been closed")
	// ErrInvalidConfig occurs when the server options cannot describe a runnable server.
	ErrInvalidConfig = errors.New("invalid server configuration")
)
