// Package suggest generates todo and sub-todo suggestions with a chat model.
//
// A call gathers the existing items, asks the model for new ones under a
// "todos" key, validates every candidate, embeds each task name and stores
// the results with the AI label. An invalid candidate rejects the whole
// batch before anything is embedded or written. Embeddings run with bounded
// concurrency; rows are written one at a time in the order the model
// returned them.
//
// Duplicates are avoided only by instructing the model. Nothing here
// compares suggestions against stored rows, so repeated calls keep adding.
package suggest
