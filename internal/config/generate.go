package config

// DefaultConfigTOML is a complete, commented sample circbuf.toml.
const DefaultConfigTOML = `# circbuf configuration file

[daemon]
# logfile = ""                  # daemon log file path (default: stdout)
# logfile_maxbytes = "50MB"     # rotate the log file at this size (0 = never)
# logfile_backups = 10          # rotated files to keep
# log_level = "info"            # debug, info, warn, error
# log_format = "json"           # json, text
# syslog = false                # also send daemon logs to syslog
# pid_file = ""                 # write the daemon PID here
# shutdown_timeout = 30         # seconds to wait for graceful shutdown

[limits]
# max_name_length = 127         # buffer name limit in bytes
# max_command_length = 63       # command name limit in bytes
# max_channels = 1024           # channels per buffer
# max_capacity = 16777216       # samples per channel
# max_samples = 268435456       # channels x capacity per buffer
# max_read_samples = 16777216   # samples returned by one read, all channels

[events]
# history = 256                 # events kept for stream replay

[server.unix]
# file = "/var/run/circbuf.sock" # Unix socket path
# chmod = "0700"                # socket file permissions

[server.http]
# enabled = false               # enable TCP HTTP server
# listen = "127.0.0.1:9877"     # TCP listen address
# username = ""                 # HTTP Basic Auth username
# password = ""                 # bcrypt hash from "circbuf hash-password"

# Buffers created at startup
# [buffers.mic]
# channels = 2                  # REQUIRED
# capacity = 48000              # REQUIRED: samples per channel
# strict = false                # reject reads past the retained samples

# Additional config files; buffers and webhooks are merged
# include = ["conf.d/*.toml"]

# Webhook definitions
# [webhooks.slack]
# url = "https://hooks.slack.com/..."
# events = ["BUFFER_FULL", "BUFFER_DESTROYED"]
# template = "slack"            # generic, slack
# timeout = 5
# retries = 3
# allow_insecure = false
# [webhooks.slack.headers]
# Authorization = "Bearer ${SLACK_TOKEN}"
`
