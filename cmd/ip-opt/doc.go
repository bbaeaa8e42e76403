// Command ip-opt pins github.com to the fastest GitHub address.
//
// Usage:
//
//	ip-opt [-hosts /etc/hosts] [-candidates meta.json] [-strict] [-backup] [-dry-run]
//
// Flags:
//
//	-candidates    JSON or YAML document with web/api/git groups (default: built in)
//	-hosts         hosts file to rewrite (default: the system hosts file)
//	-dns           upstream DNS server for non-literal candidates
//	-dns-timeout   timeout for each upstream DNS query (default 2s)
//	-port          TCP port to probe (default 443)
//	-timeout       per-probe connect timeout (default 100ms)
//	-concurrency   probes in flight, 0 for one per candidate (default 0)
//	-strict        drop candidates whose connection failed instead of timing the failure
//	-backup        save the original hosts file before rewriting it
//	-restore       restore the hosts file from the given backup and exit
//	-dry-run       print the rewritten hosts file instead of writing it
//	-v             debug logging
//
// Behavior:
//
// Every candidate is dialled once, in parallel. The quickest to finish wins,
// and by default that includes a dial that failed quickly. The managed
// hostnames are then rewritten at the end of the hosts file. Writing the
// system hosts file normally requires root or administrator rights.
package main
