/*
Package config loads the YAML configuration of a burrow node.

Load starts from Default and overlays the file, so a file only needs the
settings it changes:

	nodeId: node-1
	raftAddr: 10.0.0.1:7946
	apiAddr: 10.0.0.1:7947
	httpAddr: 10.0.0.1:9090
	dataDir: /var/lib/burrow
	bootstrap: false
	join: 10.0.0.2:7947
	executor:
	  queues:
	    generic: 32
	rpc:
	  timeout: 5s

Command-line flags are applied on top by the caller before Validate.
*/
package config
