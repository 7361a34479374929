// Package notify delivers one-time codes. The engine only needs an
// [authcore.Sender]; the types here cover local development ([WriterSender]),
// handing delivery to a mail worker over RabbitMQ ([AMQPSender]), and keeping
// slow transports off the request path ([Async]).
//
// Senders never log the code itself.
package notify
