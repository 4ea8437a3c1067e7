// Package media provides the production fetch and transform collaborators
// for the cache: a yt-dlp downloader and an ffmpeg loudness normalizer,
// both driven as subprocesses with timeouts and captured stderr.
package media
