package main

// Server holds information about a linked server. Local and remote.
type Server struct {
	SID         TS6SID
	Name        string
	Description string
	HopCount    int

	// LocalServer is set only if this server is a direct neighbor.
	LocalServer *LocalServer

	// LinkedTo is the server that introduced this one (with SID) -- its
	// uplink on the path toward us, which need not be our direct neighbor.
	// Nil if this server is itself a direct neighbor.
	LinkedTo *Server

	// ClosestServer is our direct neighbor through which this server is
	// reachable. Nil if this server is itself a direct neighbor.
	ClosestServer *LocalServer
}

// isLocal reports whether this server is a direct neighbor.
func (s *Server) isLocal() bool {
	return s.LocalServer != nil
}
