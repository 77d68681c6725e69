// Package client provides the `mptrack` command-line client.
//
// Each command opens a tracker, initialises one instance, performs a single
// operation, flushes and prints the instance snapshot as JSON. It is meant
// for exercising a collection endpoint from a terminal.
//
// # Configuration
//
// Settings come from --config (JSON or YAML), then MPTRACK_* environment
// variables, then flags. --collector points both the config and identity
// endpoints at one base URL, such as a local `mptrack collector start`.
//
// Usage
//
//	mptrack collector start --addr :8088 --token apiKey1=wtTest1
//
//	mptrack event log --collector http://127.0.0.1:8088 --dev \
//	    --api-key apiKey1 --name signup --type navigation --attr plan=pro
//
//	mptrack purchase log --collector http://127.0.0.1:8088 --dev \
//	    --api-key apiKey1 --transaction-id T1 --revenue 1798 \
//	    --product iphone:iphoneSKU:999 --product galaxy:galaxySKU:799
//
//	mptrack identify --collector http://127.0.0.1:8088 --dev \
//	    --api-key apiKey1 --method login --identity email=a@example.com
//
//	mptrack reset --backend pebble --data-dir ./data
package client
