/*
Package protocol defines the messages exchanged between the bridge client and server, and how they are framed on the Unix socket.

There are two kinds of messages: commands are sent client->server, and responses are sent server->client. Both are CBOR-encoded envelopes carrying a variant tag and a body. See types.go for the vocabulary.

The exchange proceeds as follows:

1. The client connects to the server's socket.
2. The client writes one encoded command. This write is NOT length-prefixed, the server reads it with a single read of up to MaxRequestSize bytes.
3. The server writes one or more frames, each an 8-byte big-endian length followed by an encoded response.
4. For a Stream command, the server writes zero or more StreamChunk responses followed by exactly one StreamEnd. For every other command it writes exactly one response.
5. The server closes the connection.

The request/response asymmetry caps the encoded size of a command (and so the argument list) at MaxRequestSize. Clients should refuse to send anything larger rather than rely on the server seeing a split request.
*/
package protocol
