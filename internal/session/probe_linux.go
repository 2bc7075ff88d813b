package session

import "golang.org/x/sys/unix"

// fionread queries the receive queue length.  Linux spells FIONREAD
// for sockets as SIOCINQ.
const fionread = unix.SIOCINQ
