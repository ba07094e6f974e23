// Package integrations provides adapter layers for third-party observability
// and orchestration platforms.
//
// Subpackages:
//   - langchain: Wraps AgentOven agents as LangChain-compatible tools
//   - langfuse:  Exports AgentOven traces to LangFuse format + ingestion
package integrations
