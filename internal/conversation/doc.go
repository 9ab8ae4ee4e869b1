// Package conversation implements the conversation state engine.
//
// # Service
//
// Service is the single source of truth for all chats. Every mutation goes
// through one of its operations:
//
//   - SendOperatorMessage: operator send, rejected on resolved chats
//   - ReceiveCustomerMessage: customer message with read-while-viewing
//     unread semantics
//   - SelectChat: focus a chat and reset its unread counter
//   - SetStatus: toggle active ⇄ resolved
//   - UpdateCRMFields: patch business metadata
//   - CreateChat: prepend a new chat seeded from an inbound contact
//
// Operations are synchronous and return the new state. After each successful
// mutation the full chat collection is snapshotted to the blob store; write
// failures are logged and never roll the mutation back.
//
// # State machine
//
// Chats are active or resolved, start active, transition only via SetStatus,
// and have no terminal state. A resolved chat rejects operator sends but
// still accepts inbound customer messages.
//
// # Broadcasting
//
// Broadcaster fans engine events (message, chat_created, status_changed,
// composing) out to UI subscribers over buffered channels so clients can
// render without polling. Slow subscribers lose events rather than blocking
// the engine.
package conversation
