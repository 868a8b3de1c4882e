// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - SourceFetcher: Fetches raw documents for a source reference
//   - NormaliserRegistry: Turns raw documents into normalised text
//   - PostProcessorPipeline: Splits documents into chunks
//   - EmbeddingService: Generates vector embeddings
//   - RecordStore: Record persistence and similarity search
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - LLMService: Language model calls. Without it, answer generation is disabled.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, connector, or normaliser package
package driven
