// Package edge implements the L1 role: TLS connection termination,
// the per-client control/voice state machine, an advisory mirror of
// the hub's channel/ACL tables, and the UDP voice router (§4.1–§4.6).
package edge

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
)

// ListenerConfig names the TLS material and ports a Listener binds,
// modernizing teacher's NewTLSListener (tlsserver.go) which read
// "grumble.crt"/"grumble.key" fixed paths and built a bare tls.Config
// by hand against pre-Go1 APIs (log.Stderr, config.Time, a positional
// net.TCPAddr literal).
type ListenerConfig struct {
	Host              string
	Port              int
	CertFile          string
	KeyFile           string
	CAFile            string
	RequireClientCert bool
}

// Listener owns the primary TLS control-connection socket only; the
// two UDP sockets an edge binds (legacy voice on Port+1, cluster voice
// on a second configured port) are opened separately (§4.6, §6).
type Listener struct {
	tls *tls.Listener
}

// NewListener loads cfg's certificate and key and binds the primary
// TLS listener on cfg.Host:cfg.Port.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("edge: load cert/key: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequestClientCert
	}
	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("edge: read CA: %w", err)
		}
		tlsConfig.ClientCAs = x509.NewCertPool()
		tlsConfig.ClientCAs.AppendCertsFromPEM(caPEM)
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		if cfg.RequireClientCert {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	tcpListener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("edge: listen %s: %w", addr, err)
	}

	l := tls.NewListener(tcpListener, tlsConfig)
	return &Listener{tls: l.(*tls.Listener)}, nil
}

// Accept blocks for the next TLS client connection, same role as
// teacher's main accept loop in cmd/grumble.
func (l *Listener) Accept() (*tls.Conn, error) {
	conn, err := l.tls.Accept()
	if err != nil {
		return nil, err
	}
	return conn.(*tls.Conn), nil
}

// Close shuts down the primary listener.
func (l *Listener) Close() error {
	return l.tls.Close()
}

// Addr returns the primary listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.tls.Addr()
}

// LegacyVoiceSocket binds the legacy UDP voice socket on host:port+1
// (§6 "UDP on the same port number for voice" — the edge's primary
// port serves legacy UDP one port up from its TLS port in this
// cluster's convention so the two can share a listener process).
func LegacyVoiceSocket(host string, port int) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port + 1}
	if addr.IP == nil {
		addr.IP = net.IPv4zero
	}
	return net.ListenUDP("udp", addr)
}

// ClusterVoiceSocket binds the dedicated cluster-voice UDP socket
// (§4.6 "a separate UDP port") edges use to forward re-encrypted
// voice to peers.
func ClusterVoiceSocket(host string, port int) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	if addr.IP == nil {
		addr.IP = net.IPv4zero
	}
	return net.ListenUDP("udp", addr)
}
