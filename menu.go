package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"library-lending/library"
)

const rule = "--------------------------------------------------"

// menu is the interactive numbered menu. Input and output are injected so the
// whole flow can be driven from tests.
type menu struct {
	ctx  context.Context
	sc   *bufio.Scanner
	out  io.Writer
	mgr  *library.LibraryManager
	sess *library.Session

	// readSecret reads a password; it falls back to a plain line when stdin
	// is not a terminal.
	readSecret func(prompt string) (string, error)
}

func newMenu(ctx context.Context, in io.Reader, out io.Writer, mgr *library.LibraryManager, sess *library.Session) *menu {
	m := &menu{ctx: ctx, sc: bufio.NewScanner(in), out: out, mgr: mgr, sess: sess}
	m.readSecret = m.prompt
	return m
}

func (m *menu) printf(format string, args ...any) { fmt.Fprintf(m.out, format, args...) }
func (m *menu) println(args ...any)               { fmt.Fprintln(m.out, args...) }

// prompt prints label and reads one trimmed line. io.EOF means input ended.
func (m *menu) prompt(label string) (string, error) {
	m.printf("%s", label)
	if !m.sc.Scan() {
		if err := m.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(m.sc.Text()), nil
}

func (m *menu) header(title string) {
	m.printf("\n%s\n%s\n%s\n", rule, center(title, len(rule)), rule)
}

// run shows the main menu until the user exits or input ends.
func (m *menu) run() error {
	m.printf("\n%s\n%s\n%s\n", strings.Repeat("=", len(rule)), center("Welcome to the Library Management System", len(rule)), strings.Repeat("=", len(rule)))

	for {
		m.displayMainMenu()
		choice, err := m.prompt("\nEnter your choice (1-9): ")
		if err != nil {
			return ignoreEOF(err)
		}

		switch choice {
		case "1":
			err = m.login()
		case "2":
			err = m.register()
		case "3":
			err = m.search()
		case "4":
			err = m.viewAll()
		case "5":
			err = m.issue()
		case "6":
			err = m.returnBook()
		case "7":
			err = m.myBooks()
		case "8":
			err = m.librarianMenu()
		case "9":
			m.println("\nThank you for using the Library Management System. Goodbye!")
			return nil
		default:
			m.println("\nInvalid choice. Please try again.")
		}
		if err != nil {
			return ignoreEOF(err)
		}
	}
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (m *menu) displayMainMenu() {
	m.header("MAIN MENU")
	p, ok := m.sess.Current()
	if ok {
		m.printf("Logged in as: %s (%s)\n%s\n", p.Name, p.Role, rule)
	}
	m.println("1. Login")
	m.println("2. Register")
	m.println("3. Search Books")
	m.println("4. View All Books")
	m.println("5. Issue Book")
	m.println("6. Return Book")
	m.println("7. View My Books")
	if ok && p.Role.Satisfies(library.RoleLibrarian) {
		m.println("8. Librarian Menu")
	}
	m.println("9. Exit")
}

// report prints the message of a lending failure and hands back anything
// else as a real error.
func (m *menu) report(err error) error {
	var le *library.Error
	if errors.As(err, &le) {
		m.printf("\n%s\n", le.Message)
		return nil
	}
	return err
}

// ------------------ Account ------------------

func (m *menu) login() error {
	if p, ok := m.sess.Current(); ok {
		m.printf("\nYou are already logged in as %s.\n", p.Name)
		answer, err := m.prompt("Would you like to logout? (y/n): ")
		if err != nil {
			return err
		}
		if strings.EqualFold(answer, "y") {
			m.sess.Logout()
			m.println("\nLogged out successfully.")
		}
		return nil
	}

	m.header("LOGIN")
	username, err := m.prompt("Username: ")
	if err != nil {
		return err
	}
	password, err := m.readSecret("Password: ")
	if err != nil {
		return err
	}
	if _, err := m.sess.Login(m.ctx, username, password); err != nil {
		return m.report(err)
	}
	m.println("\nLogin successful.")
	return nil
}

func (m *menu) register() error {
	m.header("REGISTER")
	username, err := m.prompt("Username: ")
	if err != nil {
		return err
	}
	password, err := m.readSecret("Password: ")
	if err != nil {
		return err
	}
	name, err := m.prompt("Full Name: ")
	if err != nil {
		return err
	}
	email, err := m.prompt("Email (optional): ")
	if err != nil {
		return err
	}

	_, err = m.sess.Register(m.ctx, library.RegisterParams{Username: username, Password: password, Name: name, Email: email})
	if err != nil {
		return m.report(err)
	}
	m.println("\nUser registered successfully.")
	return nil
}

// ------------------ Catalog ------------------

func (m *menu) search() error {
	m.header("SEARCH BOOKS")
	query, err := m.prompt("Enter search term: ")
	if err != nil {
		return err
	}
	if query == "" {
		m.println("\nSearch term cannot be empty.")
		return nil
	}
	books, err := m.mgr.SearchBooks(m.ctx, query, library.SearchAny)
	if err != nil {
		return err
	}
	m.println("\nSearch results:")
	m.displayBooks(books)
	return nil
}

func (m *menu) viewAll() error {
	m.header("ALL BOOKS")
	books, err := m.mgr.AllBooks(m.ctx)
	if err != nil {
		return err
	}
	m.displayBooks(books)
	return nil
}

func (m *menu) displayBooks(books []library.Book) {
	if len(books) == 0 {
		m.println("\nNo books found.")
		return
	}
	m.printf("\n%-5s %-30s %-20s %-15s %-10s\n", "ID", "Title", "Author", "ISBN", "Available")
	m.println(strings.Repeat("-", 80))
	for i, b := range books {
		m.printf("%-5d %-30s %-20s %-15s %-10s\n", i+1, truncate(b.Title, 30), truncate(b.Author, 20), b.ISBN,
			fmt.Sprintf("%d/%d", b.AvailableCopies, b.TotalCopies))
	}
}

// pickBook lets the user list or search the catalog and choose a row.
func (m *menu) pickBook(action string) (library.Book, bool, error) {
	choice, err := m.prompt("Do you want to (1) View all books or (2) Search for a book? (1/2): ")
	if err != nil {
		return library.Book{}, false, err
	}
	var books []library.Book
	switch choice {
	case "1":
		books, err = m.mgr.AllBooks(m.ctx)
	case "2":
		var query string
		if query, err = m.prompt("\nEnter search term: "); err != nil {
			return library.Book{}, false, err
		}
		books, err = m.mgr.SearchBooks(m.ctx, query, library.SearchAny)
	default:
		m.println("\nInvalid choice.")
		return library.Book{}, false, nil
	}
	if err != nil {
		return library.Book{}, false, err
	}

	m.displayBooks(books)
	if len(books) == 0 {
		return library.Book{}, false, nil
	}
	idx, ok, err := m.pickIndex(fmt.Sprintf("\nEnter the ID of the book you want to %s: ", action), len(books))
	if err != nil || !ok {
		return library.Book{}, false, err
	}
	return books[idx], true, nil
}

func (m *menu) pickIndex(label string, n int) (int, bool, error) {
	raw, err := m.prompt(label)
	if err != nil {
		return 0, false, err
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		m.println("\nInvalid input. Please enter a number.")
		return 0, false, nil
	}
	if i < 1 || i > n {
		m.println("\nInvalid book ID.")
		return 0, false, nil
	}
	return i - 1, true, nil
}

// ------------------ Circulation ------------------

func (m *menu) issue() error {
	p, ok := m.sess.Current()
	if !ok {
		m.println("\nYou must be logged in to issue a book.")
		return nil
	}
	m.header("ISSUE BOOK")
	book, ok, err := m.pickBook("issue")
	if err != nil || !ok {
		return err
	}
	out, err := m.mgr.IssueBook(m.ctx, p, book.ID, 0)
	if err != nil {
		return m.report(err)
	}
	m.printf("\n%s\n", out.Message)
	return nil
}

func (m *menu) returnBook() error {
	p, ok := m.sess.Current()
	if !ok {
		m.println("\nYou must be logged in to return a book.")
		return nil
	}
	m.header("RETURN BOOK")
	loans, err := m.mgr.UserBooks(m.ctx, p)
	if err != nil {
		return m.report(err)
	}
	if len(loans) == 0 {
		m.println("\nYou don't have any books issued.")
		return nil
	}

	m.println("\nYour issued books:")
	m.printf("\n%-5s %-30s %-20s %-15s %-10s\n", "ID", "Title", "Author", "Due Date", "Fine")
	m.println(strings.Repeat("-", 80))
	for i, l := range loans {
		fine := "None"
		if l.Fine.IsPositive() {
			fine = "$" + l.Fine.StringFixed(2)
		}
		m.printf("%-5d %-30s %-20s %-15s %-10s\n", i+1, truncate(l.Book.Title, 30), truncate(l.Book.Author, 20),
			l.DueDate.Format(library.DateLayout), fine)
	}

	idx, ok, err := m.pickIndex("\nEnter the ID of the book you want to return: ", len(loans))
	if err != nil || !ok {
		return err
	}
	out, err := m.mgr.ReturnBook(m.ctx, p, loans[idx].Book.ID)
	if err != nil {
		return m.report(err)
	}
	m.printf("\n%s\n", out.Message)
	return nil
}

func (m *menu) myBooks() error {
	p, ok := m.sess.Current()
	if !ok {
		m.println("\nYou must be logged in to view your books.")
		return nil
	}
	m.header("MY BOOKS")
	loans, err := m.mgr.UserBooks(m.ctx, p)
	if err != nil {
		return m.report(err)
	}
	if len(loans) == 0 {
		m.println("\nYou don't have any books issued.")
		return nil
	}
	m.printf("\n%-5s %-30s %-20s %-15s %-10s\n", "ID", "Title", "Author", "Due Date", "Status")
	m.println(strings.Repeat("-", 80))
	for i, l := range loans {
		status := "Active"
		if l.IsOverdue {
			status = "Overdue"
		}
		m.printf("%-5d %-30s %-20s %-15s %-10s\n", i+1, truncate(l.Book.Title, 30), truncate(l.Book.Author, 20),
			l.DueDate.Format(library.DateLayout), status)
	}
	return nil
}

// ------------------ Librarian ------------------

func (m *menu) librarianMenu() error {
	p, ok := m.sess.Current()
	if !ok || !p.Role.Satisfies(library.RoleLibrarian) {
		m.println("\nAccess denied. Only librarians can access this menu.")
		return nil
	}

	for {
		m.header("LIBRARIAN MENU")
		m.println("1. Add Book")
		m.println("2. Remove Book")
		m.println("3. View Overdue Books")
		m.println("4. Back to Main Menu")
		choice, err := m.prompt("\nEnter your choice (1-4): ")
		if err != nil {
			return err
		}
		switch choice {
		case "1":
			err = m.addBook(p)
		case "2":
			err = m.removeBook(p)
		case "3":
			err = m.overdue(p)
		case "4":
			return nil
		default:
			m.println("\nInvalid choice. Please try again.")
		}
		if err != nil {
			return err
		}
	}
}

func (m *menu) addBook(p library.Principal) error {
	m.header("ADD BOOK")
	var fields [6]string
	labels := [6]string{"Title: ", "Author: ", "ISBN: ", "Publisher (optional): ", "Year (optional): ", "Number of copies (default: 1): "}
	for i, label := range labels {
		v, err := m.prompt(label)
		if err != nil {
			return err
		}
		fields[i] = v
	}

	nb := library.NewBook{Title: fields[0], Author: fields[1], ISBN: fields[2], Copies: 1}
	if fields[3] != "" {
		nb.Publisher = &fields[3]
	}
	if fields[4] != "" {
		year, err := strconv.Atoi(fields[4])
		if err != nil {
			m.println("\nInvalid year. Leaving it empty.")
		} else {
			nb.Year = &year
		}
	}
	if fields[5] != "" {
		copies, err := strconv.Atoi(fields[5])
		if err != nil {
			m.println("\nInvalid number of copies. Using 1.")
		} else if copies > 1 {
			nb.Copies = copies
		}
	}

	out, err := m.mgr.AddBook(m.ctx, p, nb)
	if err != nil {
		return m.report(err)
	}
	m.printf("\n%s\n", out.Message)
	return nil
}

func (m *menu) removeBook(p library.Principal) error {
	m.header("REMOVE BOOK")
	book, ok, err := m.pickBook("remove")
	if err != nil || !ok {
		return err
	}
	confirm, err := m.prompt(fmt.Sprintf("\nAre you sure you want to remove '%s'? (y/n): ", book.Title))
	if err != nil {
		return err
	}
	if !strings.EqualFold(confirm, "y") {
		m.println("\nBook removal cancelled.")
		return nil
	}
	out, err := m.mgr.RemoveBook(m.ctx, p, book.ID)
	if err != nil {
		return m.report(err)
	}
	m.printf("\n%s\n", out.Message)
	return nil
}

func (m *menu) overdue(p library.Principal) error {
	m.header("OVERDUE BOOKS")
	items, err := m.mgr.OverdueBooks(m.ctx, p)
	if err != nil {
		return m.report(err)
	}
	if len(items) == 0 {
		m.println("\nNo overdue books found.")
		return nil
	}
	m.printf("\n%-5s %-25s %-15s %-15s %-10s %-10s\n", "ID", "Book Title", "User", "Due Date", "Days Late", "Fine")
	m.println(strings.Repeat("-", 80))
	for i, it := range items {
		due := ""
		if it.Transaction.DueDate != nil {
			due = it.Transaction.DueDate.Format(library.DateLayout)
		}
		m.printf("%-5d %-25s %-15s %-15s %-10d %-10s\n", i+1, truncate(it.Book.Title, 25), truncate(it.User.Name, 15),
			due, it.DaysLate, "$"+it.Fine.StringFixed(2))
	}
	return nil
}

// ------------------ Formatting ------------------

// truncate shortens s to width runes, ending in "..." when cut.
func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

func center(s string, width int) string {
	pad := width - len([]rune(s))
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}
