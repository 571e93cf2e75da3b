package main

import (
	"io"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// broadcaster pushes every message to all connected websocket clients.
type broadcaster struct {
	sockets    []*websocket.Conn
	sockets_mu *sync.Mutex
	messages   chan []byte
}

func newBroadcaster() *broadcaster {
	ret := &broadcaster{
		sockets:    make([]*websocket.Conn, 0),
		sockets_mu: &sync.Mutex{},
		messages:   make(chan []byte, 1024),
	}
	go ret.writer()
	return ret
}

// Send queues msg for all clients, dropping it if the queue is full.
func (b *broadcaster) Send(msg []byte) {
	select {
	case b.messages <- msg:
	default:
	}
}

func (b *broadcaster) AddSocket(sock *websocket.Conn) {
	b.sockets_mu.Lock()
	b.sockets = append(b.sockets, sock)
	b.sockets_mu.Unlock()
}

func (b *broadcaster) Clients() int {
	b.sockets_mu.Lock()
	defer b.sockets_mu.Unlock()
	return len(b.sockets)
}

// Handler registers the client and keeps the connection open until it goes away.
func (b *broadcaster) Handler() websocket.Handler {
	return func(conn *websocket.Conn) {
		b.AddSocket(conn)
		io.Copy(io.Discard, conn)
	}
}

func (b *broadcaster) writer() {
	for {
		msg := <-b.messages
		// Send to all.
		p := make([]*websocket.Conn, 0) // Keep a list of the writeable sockets.
		b.sockets_mu.Lock()
		for _, sock := range b.sockets {
			err := sock.SetWriteDeadline(time.Now().Add(time.Second))
			_, err2 := sock.Write(msg)
			if err == nil && err2 == nil {
				p = append(p, sock)
			}
		}
		b.sockets = p // Save the list of writeable sockets.
		b.sockets_mu.Unlock()
	}
}
