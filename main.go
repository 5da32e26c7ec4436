// Command streampull is a concurrent HTTP file downloader for IPTV-style
// media streams: it fetches a batch of (URL, destination) jobs, splitting
// each into parallel byte-range chunks, rate-limiting traffic, checkpointing
// progress to disk, and refreshing auth tokens on demand.
package main

import "github.com/streampull/streampull/cmd"

func main() {
	cmd.Execute()
}
