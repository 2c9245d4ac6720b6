// Helpers shared by command-line tools: database, redis, and logger setup.
package cliutil
