/*
Package process runs the programs requested by bridge clients.

There are two ways to run a program:

  - Run waits for the program to exit and captures its output into a single response: stdout on success, stderr otherwise.
  - Start spawns the program with stdout and stderr piped, and exposes each pipe as a single-pass sequence of lines. The caller relays the lines while the program runs and then calls Wait.

Output is decoded as text permissively: invalid UTF-8 is replaced, never fatal.

Run also enforces the restrictions on programs that would never exit when run to completion (see CheckPolicy). Such programs should be streamed instead.
*/
package process
