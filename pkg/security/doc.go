/*
Package security provides the certificates behind mutual TLS on the burrow
gRPC API.

A CertAuthority is created once, offline, and signs one certificate per node
plus one for each CLI user. Every certificate directory holds the signed
certificate, its key and the CA certificate:

	<dir>/node.crt
	<dir>/node.key
	<dir>/ca.crt

The CA directory additionally holds ca.key and should stay off the nodes.

	ca := security.NewCertAuthority()
	if err := ca.Initialize(); err != nil {
		return err
	}
	cert, err := ca.IssueNodeCertificate("node-1", []string{"10.0.0.1", "node-1.internal"})
	...
	security.SaveCertToFile(cert, "/etc/burrow/tls")
	security.SaveCACertToFile(ca.RootCertificate().Raw, "/etc/burrow/tls")

ServerCredentials and ClientCredentials turn such a directory into gRPC
transport credentials. Servers require and verify client certificates;
clients trust only the cluster CA.

Node certificates are valid for 90 days and carry both server and client
usage, since nodes call each other. CertNeedsRotation reports when less than
30 days remain.
*/
package security
