// Package ipc implements the inter-task channels: the per-task mailbox, the
// event counter and the pipe.
package ipc

import (
	"fmt"

	"taskos/kernel/abi"
)

var (
	ErrMailboxFull  = fmt.Errorf("ipc: mailbox full: %w", abi.EFAIL)
	ErrMailboxEmpty = fmt.Errorf("ipc: mailbox empty: %w", abi.EFAIL)
)

// MailStatus is the fill state of a mailbox.
type MailStatus uint8

const (
	MailEmpty MailStatus = iota
	MailNormal
	MailFull
)

func (s MailStatus) String() string {
	switch s {
	case MailEmpty:
		return "Empty"
	case MailNormal:
		return "Normal"
	case MailFull:
		return "Full"
	default:
		return "Unknown"
	}
}

// Post is one mailbox message. Payloads longer than abi.PostMaxLen are cut.
type Post struct {
	data [abi.PostMaxLen]byte
	n    int
}

// NewPost copies p, truncated to abi.PostMaxLen.
func NewPost(p []byte) Post {
	var post Post
	post.n = copy(post.data[:], p)
	return post
}

// Bytes returns the payload.
func (p *Post) Bytes() []byte { return p.data[:p.n] }

// Len returns the payload length.
func (p *Post) Len() int { return p.n }

// Mailbox is a fixed ring of abi.MailCapacity posts.
type Mailbox struct {
	posts  [abi.MailCapacity]Post
	head   int
	tail   int
	status MailStatus
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox { return &Mailbox{} }

func (m *Mailbox) Status() MailStatus { return m.status }

// Readable reports whether a Fetch would succeed.
func (m *Mailbox) Readable() bool { return m.status != MailEmpty }

// Writable reports whether a Push would succeed.
func (m *Mailbox) Writable() bool { return m.status != MailFull }

// Len returns the number of pending posts.
func (m *Mailbox) Len() int {
	switch m.status {
	case MailEmpty:
		return 0
	case MailFull:
		return abi.MailCapacity
	}
	return (m.tail - m.head + abi.MailCapacity) % abi.MailCapacity
}

// Push enqueues a copy of p. A full mailbox is left unchanged.
func (m *Mailbox) Push(p []byte) error {
	if m.status == MailFull {
		return ErrMailboxFull
	}
	m.posts[m.tail] = NewPost(p)
	m.tail = (m.tail + 1) % abi.MailCapacity
	if m.tail == m.head {
		m.status = MailFull
	} else {
		m.status = MailNormal
	}
	return nil
}

// Fetch dequeues the oldest post.
func (m *Mailbox) Fetch() (Post, error) {
	if m.status == MailEmpty {
		return Post{}, ErrMailboxEmpty
	}
	p := m.posts[m.head]
	m.posts[m.head] = Post{}
	m.head = (m.head + 1) % abi.MailCapacity
	if m.head == m.tail {
		m.status = MailEmpty
	} else {
		m.status = MailNormal
	}
	return p, nil
}
