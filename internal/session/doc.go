// Package session is the engine that sits between the socket and the
// protocol families.
//
// A Session owns the session-scoped registries (transactions and modules),
// the receive and transmit queues, and every connection opened through it.
// Each Conn owns its handler table, its cookies and its FLAP sequence
// counter.
//
// The caller drives the session from its own loop:
//
//	s.ReadFrom(conn) // when conn is readable
//	s.Dispatch()
//	s.PurgeRx()
//	s.Flush()        // under TxQueued
//
// None of these block except ReadFrom, which reads exactly one frame.
package session
