package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"google.golang.org/grpc/credentials"
)

// ServerTLSConfig builds a mutual TLS server config from a certificate
// directory: peers must present a certificate signed by the same CA.
func ServerTLSConfig(dir string) (*tls.Config, error) {
	cert, pool, err := loadPair(dir)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientTLSConfig builds a client config presenting the certificate in dir
// and trusting only its CA
func ClientTLSConfig(dir string) (*tls.Config, error) {
	cert, pool, err := loadPair(dir)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ServerCredentials returns gRPC transport credentials for the API server
func ServerCredentials(dir string) (credentials.TransportCredentials, error) {
	cfg, err := ServerTLSConfig(dir)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(cfg), nil
}

// ClientCredentials returns gRPC transport credentials for API clients
func ClientCredentials(dir string) (credentials.TransportCredentials, error) {
	cfg, err := ClientTLSConfig(dir)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(cfg), nil
}

func loadPair(dir string) (*tls.Certificate, *x509.CertPool, error) {
	cert, err := LoadCertFromFile(dir)
	if err != nil {
		return nil, nil, err
	}
	ca, err := LoadCACertFromFile(dir)
	if err != nil {
		return nil, nil, err
	}
	if err := ValidateCertChain(cert.Leaf, ca); err != nil {
		return nil, nil, fmt.Errorf("certificate in %s: %w", dir, err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(ca)
	return cert, pool, nil
}
