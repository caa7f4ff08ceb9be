// Package runtimestate keeps the durable, observer-visible facts about each
// agent: API and database connection health, the last tick and pagination
// progress.
//
// The Store holds one AgentState per agent id. Reading an unknown id returns
// a fully defaulted record. All mutation goes through UpdateAgent (or
// UpdateAndSave), serialized by a single mutex for the whole store. Save
// writes the document to a JSON file:
//
//	{
//	  "schemaVersion": 1,
//	  "updatedAtUtc": "2026-10-19T12:00:00Z",
//	  "agents": { "uzstandart": { "api": {...}, "db": {...}, "tick": {...}, "progress": {...} } }
//	}
//
// Enum fields are written as lower-case names and read case-insensitively;
// unknown names decode to "unknown" rather than failing the load.
package runtimestate
