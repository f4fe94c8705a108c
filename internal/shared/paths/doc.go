// Package paths resolves where the bridge keeps its files.
//
//	<user config dir>/AgentOS/fetchbridge/
//	  └── cookies.json   (persistent cookie jar)
//
// AGENTOS_DATA_DIR overrides the base directory.
package paths
