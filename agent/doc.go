// Package agent provides the concrete role implementations: ModelWorker, a
// leaf role that answers one sub-task with an inference model and optional
// tools, and Coordinator, the role that decides between direct answering and
// sequential delegation through registered workers. Both implement core.Role,
// so a Coordinator can be registered as a worker of another Coordinator to
// build teams-of-teams.
package agent
