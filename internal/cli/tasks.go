package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/pkg/tasks"
)

var (
	taskStatus   string
	taskPriority string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Work with the project's task list directly",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks for the selected project",
	RunE:  runTasksList,
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task directly, without the assistant",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksAdd,
}

var tasksDoneCmd = &cobra.Command{
	Use:   "done <task-id>",
	Short: "Mark a task done",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksDone,
}

var tasksRmCmd = &cobra.Command{
	Use:   "rm <task-id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksRm,
}

func init() {
	tasksListCmd.Flags().StringVar(&taskStatus, "status", "", "filter by status (todo, in_progress, review, done)")
	tasksListCmd.Flags().StringVar(&taskPriority, "priority", "", "filter by priority (low, medium, high, critical)")
	tasksAddCmd.Flags().StringVar(&taskPriority, "priority", "", "task priority (low, medium, high, critical)")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksDoneCmd)
	tasksCmd.AddCommand(tasksRmCmd)
	rootCmd.AddCommand(tasksCmd)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	if app.projectID == "" {
		return fmt.Errorf("no project selected: pass --project or set project.id in the config")
	}

	list, err := app.taskClient.List(cmd.Context(), app.projectID, tasks.Filter{
		Status:   taskStatus,
		Priority: taskPriority,
	})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	for _, t := range list {
		line := fmt.Sprintf("[%s] %s", t.Status, t.Title)
		if t.Priority != "" {
			line += fmt.Sprintf(" (%s)", t.Priority)
		}
		fmt.Printf("%s  %s\n", t.ID, line)
	}
	return nil
}

func runTasksAdd(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	if app.projectID == "" {
		return fmt.Errorf("no project selected: pass --project or set project.id in the config")
	}

	created, err := app.taskClient.Create(cmd.Context(), app.projectID, tasks.TaskCreate{
		Title:    args[0],
		Priority: taskPriority,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created %s: %s\n", created.ID, created.Title)
	return nil
}

func runTasksDone(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	status := tasks.StatusDone
	updated, err := app.taskClient.Update(cmd.Context(), args[0], tasks.TaskUpdate{Status: &status})
	if err != nil {
		return err
	}
	fmt.Printf("done: %s\n", updated.Title)
	return nil
}

func runTasksRm(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.taskClient.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("deleted")
	return nil
}
