// Package backend exposes the identity and task store as named functions over
// gRPC.
//
// A call names a function by path, for example "authAdapter:getUser" or
// "todos:createATodo", and passes a JSON-shaped argument object. The request
// travels as a google.protobuf.Struct of the form {path, args}; the result
// comes back as a google.protobuf.Value, where null means "no such document".
//
// Every argument object carries the adapter secret under "secret". The server
// compares it in constant time before resolving the path, and strips it
// before the arguments reach the function. Clients built with NewClient or
// Dial add it automatically and refuse to start without one.
//
// Function paths are grouped by module: authAdapter, projects, labels, todos
// and subTodos. Task functions take an explicit userId and only ever see that
// user's documents plus the shared system ones.
package backend
